package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	s3blob "github.com/alanyoungcy/polyoptions/internal/blob/s3"
	"github.com/alanyoungcy/polyoptions/internal/cache/memory"
	"github.com/alanyoungcy/polyoptions/internal/cache/redis"
	"github.com/alanyoungcy/polyoptions/internal/config"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/feed"
	"github.com/alanyoungcy/polyoptions/internal/platform/polymarket"
	"github.com/alanyoungcy/polyoptions/internal/server/handler"
	"github.com/alanyoungcy/polyoptions/internal/store/postgres"
	"github.com/alanyoungcy/polyoptions/internal/store/sqlite"
)

// Dependencies bundles the infrastructure the engine and its modes use. Any
// store or cache field may be nil in local mode.
type Dependencies struct {
	// Market data
	Provider domain.MarketDataProvider
	Tokens   feed.TokenResolver
	History  domain.HistoricalStore
	Recorder domain.SnapshotRecorder
	// HistoryPruner trims the local SQLite history; nil for other backends.
	HistoryPruner *sqlite.HistoryStore

	// Stores
	TradeStore     domain.TradeStore
	OrderStore     domain.OrderStore
	LiquidityStore domain.LiquidityEventStore
	AuditStore     domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Checks are reported by GET /api/health.
	Checks map[string]handler.Checker
}

// Wire constructs every dependency the configured mode needs and returns a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Upstream market data ---
	opts := polymarket.Options{
		Timeout:           cfg.MarketData.Timeout.Duration,
		RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
		Burst:             cfg.MarketData.Burst,
		MaxRetries:        cfg.MarketData.MaxRetries,
	}
	gamma := polymarket.NewGammaClient(cfg.MarketData.GammaHost, opts, logger)
	deps.Provider, deps.Tokens = gamma, gamma

	var pgClient *postgres.Client
	if cfg.UsesInfra() {
		// --- PostgreSQL ---
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.LiquidityStore = postgres.NewLiquidityEventStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.BookCache = redis.NewBookCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping

		// --- S3 archive ---
		if cfg.Archive.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return fail("s3", err)
			}
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				postgres.NewTradeStore(pool),
				postgres.NewOrderStore(pool),
				deps.AuditStore,
				logger,
			)
			deps.Checks["s3"] = s3Client.Health
		}
	} else {
		deps.SignalBus = memory.NewBus()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- Probability history ---
	switch cfg.History.Backend {
	case "postgres":
		if pgClient == nil {
			return fail("history", fmt.Errorf("postgres backend requires postgres"))
		}
		snaps := postgres.NewSnapshotStore(pgClient.Pool())
		deps.History, deps.Recorder = snaps, snaps
	case "sqlite":
		retention := time.Duration(2*cfg.Volatility.LookbackDays) * 24 * time.Hour
		if dir := filepath.Dir(cfg.History.SQLitePath); cfg.History.SQLitePath != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail("sqlite history dir", err)
			}
		}
		hs, err := sqlite.NewHistoryStore(cfg.History.SQLitePath, retention)
		if err != nil {
			return fail("sqlite history", err)
		}
		closers = append(closers, func() { _ = hs.Close() })
		deps.History, deps.Recorder, deps.HistoryPruner = hs, hs, hs
	case "clob":
		deps.History = polymarket.NewClobClient(cfg.MarketData.ClobHost, gamma, opts, logger)
	default:
		return fail("history", fmt.Errorf("unknown backend %q", cfg.History.Backend))
	}

	return deps, cleanup, nil
}
