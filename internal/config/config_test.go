package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "local"

[history]
backend = "sqlite"
sqlite_path = "/tmp/h.db"

[volatility]
cache_ttl = "15m"

[pool]
lp_fee = 0.002
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Volatility.CacheTTL.Duration)
	assert.InDelta(t, 0.002, cfg.Pool.LPFee, 1e-12)
	assert.InDelta(t, 0.001, cfg.Pool.ProtocolFee, 1e-12, "unset keys keep defaults")
	assert.False(t, cfg.UsesInfra())
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYOPT_SERVER_PORT", "9100")
	t.Setenv("POLYOPT_MARKET_DATA_MARKETS", "a, b ,,c")
	t.Setenv("POLYOPT_VOLATILITY_FETCH_TIMEOUT", "2s")
	t.Setenv("POLYOPT_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.MarketData.Markets)
	assert.Equal(t, 2*time.Second, cfg.Volatility.FetchTimeout.Duration)
	assert.Equal(t, 120, cfg.Server.RateLimit)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Pool.MaxImpact = 0
	cfg.History.Backend = "csv"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "max_impact")
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestLocalModeRejectsPostgresHistory(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "local"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres backend is unavailable")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "hunter2"
	cfg.Server.APIKey = "k"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Supabase.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "hunter2", cfg.Supabase.Password)
	assert.Empty(t, red.S3.SecretKey)
}
