// Package config defines the top-level configuration for the options engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYOPT_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Volatility VolatilityConfig `toml:"volatility"`
	Pool       PoolConfig       `toml:"pool"`
	Allocator  AllocatorConfig  `toml:"allocator"`
	MarketData MarketDataConfig `toml:"market_data"`
	History    HistoryConfig    `toml:"history"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds pricing-model constants.
type EngineConfig struct {
	RiskFreeRate float64 `toml:"risk_free_rate"`
}

// VolatilityConfig holds historical volatility estimator parameters.
type VolatilityConfig struct {
	LookbackDays      int      `toml:"lookback_days"`
	MinVolatility     float64  `toml:"min_volatility"`
	DefaultVolatility float64  `toml:"default_volatility"`
	CacheTTL          duration `toml:"cache_ttl"`
	SignificantMove   float64  `toml:"significant_move"`
	FetchTimeout      duration `toml:"fetch_timeout"`
	// RetryAfter is how long a fallback value is served after a failed
	// history fetch before the next attempt.
	RetryAfter duration `toml:"retry_after"`
}

// PoolConfig holds AMM pool parameters. Fees are fractions of notional.
type PoolConfig struct {
	MinLiquidity     float64 `toml:"min_liquidity"`
	LPFee            float64 `toml:"lp_fee"`
	ProtocolFee      float64 `toml:"protocol_fee"`
	BaseVolatility   float64 `toml:"base_volatility"`
	MaxImpact        float64 `toml:"max_impact"`
	ImpactMultiplier float64 `toml:"impact_multiplier"`
	FallbackBand     float64 `toml:"fallback_band"`
}

// AllocatorConfig holds pooled liquidity allocator parameters.
type AllocatorConfig struct {
	DefaultStrategy string `toml:"default_strategy"`
}

// MarketDataConfig holds upstream market-data endpoints and limits.
type MarketDataConfig struct {
	GammaHost         string   `toml:"gamma_host"`
	ClobHost          string   `toml:"clob_host"`
	// WSHost is the CLOB market WebSocket; empty disables the live feed.
	WSHost            string   `toml:"ws_host"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	MaxRetries        int      `toml:"max_retries"`
	RefreshInterval   duration `toml:"refresh_interval"`
	// Markets are refreshed and recorded into history in full mode.
	Markets []string `toml:"markets"`
}

// HistoryConfig selects where probability history is read from: "postgres"
// (recorded snapshots), "sqlite" (local file), or "clob" (upstream API).
type HistoryConfig struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic cold-storage archive job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			RiskFreeRate: 0.05,
		},
		Volatility: VolatilityConfig{
			LookbackDays:      30,
			MinVolatility:     0.25,
			DefaultVolatility: 0.50,
			CacheTTL:          duration{time.Hour},
			SignificantMove:   0.02,
			FetchTimeout:      duration{5 * time.Second},
			RetryAfter:        duration{30 * time.Second},
		},
		Pool: PoolConfig{
			MinLiquidity:     1000,
			LPFee:            0.003,
			ProtocolFee:      0.001,
			BaseVolatility:   0.5,
			MaxImpact:        0.15,
			ImpactMultiplier: 2,
			FallbackBand:     0.05,
		},
		Allocator: AllocatorConfig{
			DefaultStrategy: "equal",
		},
		MarketData: MarketDataConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			ClobHost:          "https://clob.polymarket.com",
			WSHost:            "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			Timeout:           duration{10 * time.Second},
			RequestsPerSecond: 5,
			Burst:             5,
			MaxRetries:        3,
			RefreshInterval:   duration{time.Minute},
		},
		History: HistoryConfig{
			Backend:    "postgres",
			SQLitePath: "data/history.db",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyoptions-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
	"local":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validHistoryBackends = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"clob":     true,
}

var validStrategies = map[string]bool{
	"equal":  true,
	"volume": true,
	"atm":    true,
	"expiry": true,
}

// UsesInfra reports whether the mode connects to Postgres, Redis, and S3.
func (c *Config) UsesInfra() bool {
	return strings.ToLower(c.Mode) != "local"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full, local)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine / volatility
	if c.Engine.RiskFreeRate < 0 || c.Engine.RiskFreeRate > 1 {
		errs = append(errs, "engine: risk_free_rate must be in [0,1]")
	}
	if c.Volatility.LookbackDays < 2 {
		errs = append(errs, "volatility: lookback_days must be >= 2")
	}
	if c.Volatility.MinVolatility <= 0 {
		errs = append(errs, "volatility: min_volatility must be > 0")
	}
	if c.Volatility.DefaultVolatility < c.Volatility.MinVolatility {
		errs = append(errs, "volatility: default_volatility must not be below min_volatility")
	}
	if c.Volatility.SignificantMove <= 0 || c.Volatility.SignificantMove >= 1 {
		errs = append(errs, "volatility: significant_move must be in (0,1)")
	}
	if c.Volatility.FetchTimeout.Duration <= 0 {
		errs = append(errs, "volatility: fetch_timeout must be > 0")
	}
	if c.Volatility.RetryAfter.Duration <= 0 {
		errs = append(errs, "volatility: retry_after must be > 0")
	}

	// Pool
	if c.Pool.MinLiquidity <= 0 {
		errs = append(errs, "pool: min_liquidity must be > 0")
	}
	if c.Pool.LPFee < 0 || c.Pool.ProtocolFee < 0 || c.Pool.LPFee+c.Pool.ProtocolFee >= 1 {
		errs = append(errs, "pool: lp_fee and protocol_fee must be >= 0 and sum below 1")
	}
	if c.Pool.MaxImpact <= 0 || c.Pool.MaxImpact >= 1 {
		errs = append(errs, "pool: max_impact must be in (0,1)")
	}
	if c.Pool.BaseVolatility <= 0 {
		errs = append(errs, "pool: base_volatility must be > 0")
	}

	if !validStrategies[c.Allocator.DefaultStrategy] {
		errs = append(errs, fmt.Sprintf("allocator: unknown default_strategy %q", c.Allocator.DefaultStrategy))
	}

	// Market data
	if c.MarketData.GammaHost == "" {
		errs = append(errs, "market_data: gamma_host must not be empty")
	}
	if c.MarketData.Timeout.Duration <= 0 {
		errs = append(errs, "market_data: timeout must be > 0")
	}
	if c.MarketData.RequestsPerSecond <= 0 {
		errs = append(errs, "market_data: requests_per_second must be > 0")
	}

	// History
	if !validHistoryBackends[c.History.Backend] {
		errs = append(errs, fmt.Sprintf("history: unknown backend %q (valid: postgres, sqlite, clob)", c.History.Backend))
	}
	if c.History.Backend == "sqlite" && c.History.SQLitePath == "" {
		errs = append(errs, "history: sqlite_path must be set for the sqlite backend")
	}
	if !c.UsesInfra() && c.History.Backend == "postgres" {
		errs = append(errs, "history: postgres backend is unavailable in local mode")
	}

	if c.UsesInfra() {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
