package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYOPT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYOPT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.RiskFreeRate, "POLYOPT_ENGINE_RISK_FREE_RATE")

	// ── Volatility ──
	setInt(&cfg.Volatility.LookbackDays, "POLYOPT_VOLATILITY_LOOKBACK_DAYS")
	setFloat64(&cfg.Volatility.MinVolatility, "POLYOPT_VOLATILITY_MIN")
	setFloat64(&cfg.Volatility.DefaultVolatility, "POLYOPT_VOLATILITY_DEFAULT")
	setDuration(&cfg.Volatility.CacheTTL, "POLYOPT_VOLATILITY_CACHE_TTL")
	setFloat64(&cfg.Volatility.SignificantMove, "POLYOPT_VOLATILITY_SIGNIFICANT_MOVE")
	setDuration(&cfg.Volatility.FetchTimeout, "POLYOPT_VOLATILITY_FETCH_TIMEOUT")
	setDuration(&cfg.Volatility.RetryAfter, "POLYOPT_VOLATILITY_RETRY_AFTER")

	// ── Pool ──
	setFloat64(&cfg.Pool.MinLiquidity, "POLYOPT_POOL_MIN_LIQUIDITY")
	setFloat64(&cfg.Pool.LPFee, "POLYOPT_POOL_LP_FEE")
	setFloat64(&cfg.Pool.ProtocolFee, "POLYOPT_POOL_PROTOCOL_FEE")
	setFloat64(&cfg.Pool.BaseVolatility, "POLYOPT_POOL_BASE_VOLATILITY")
	setFloat64(&cfg.Pool.MaxImpact, "POLYOPT_POOL_MAX_IMPACT")

	// ── Allocator ──
	setStr(&cfg.Allocator.DefaultStrategy, "POLYOPT_ALLOCATOR_DEFAULT_STRATEGY")

	// ── Market data ──
	setStr(&cfg.MarketData.GammaHost, "POLYOPT_MARKET_DATA_GAMMA_HOST")
	setStr(&cfg.MarketData.ClobHost, "POLYOPT_MARKET_DATA_CLOB_HOST")
	setStr(&cfg.MarketData.WSHost, "POLYOPT_MARKET_DATA_WS_HOST")
	setDuration(&cfg.MarketData.Timeout, "POLYOPT_MARKET_DATA_TIMEOUT")
	setFloat64(&cfg.MarketData.RequestsPerSecond, "POLYOPT_MARKET_DATA_RPS")
	setInt(&cfg.MarketData.Burst, "POLYOPT_MARKET_DATA_BURST")
	setInt(&cfg.MarketData.MaxRetries, "POLYOPT_MARKET_DATA_MAX_RETRIES")
	setDuration(&cfg.MarketData.RefreshInterval, "POLYOPT_MARKET_DATA_REFRESH_INTERVAL")
	setStringSlice(&cfg.MarketData.Markets, "POLYOPT_MARKET_DATA_MARKETS")

	// ── History ──
	setStr(&cfg.History.Backend, "POLYOPT_HISTORY_BACKEND")
	setStr(&cfg.History.SQLitePath, "POLYOPT_HISTORY_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYOPT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "POLYOPT_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYOPT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYOPT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYOPT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYOPT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYOPT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYOPT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYOPT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYOPT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYOPT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYOPT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYOPT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYOPT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYOPT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYOPT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYOPT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "POLYOPT_REDIS_QUOTE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYOPT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYOPT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYOPT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYOPT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYOPT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYOPT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYOPT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYOPT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYOPT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYOPT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYOPT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYOPT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYOPT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYOPT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POLYOPT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYOPT_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYOPT_MODE")
	setStr(&cfg.LogLevel, "POLYOPT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
