package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyoptions/internal/allocator"
	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/feed"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
	"github.com/alanyoungcy/polyoptions/internal/router"
	"github.com/alanyoungcy/polyoptions/internal/server"
	"github.com/alanyoungcy/polyoptions/internal/server/handler"
	"github.com/alanyoungcy/polyoptions/internal/server/ws"
	"github.com/alanyoungcy/polyoptions/internal/service"
	"github.com/alanyoungcy/polyoptions/internal/volatility"
)

// archiveLockKey serialises the archive job across replicas.
const archiveLockKey = "lock:archive"

// engine is the in-memory trading core shared by every mode.
type engine struct {
	markets *service.MarketService
	trading *service.TradingService
}

func (a *App) buildEngine(deps *Dependencies) *engine {
	cfg := a.cfg
	estimator := volatility.NewEstimator(deps.History, volatility.Config{
		LookbackDays:      cfg.Volatility.LookbackDays,
		MinVolatility:     cfg.Volatility.MinVolatility,
		DefaultVolatility: cfg.Volatility.DefaultVolatility,
		CacheTTL:          cfg.Volatility.CacheTTL.Duration,
		SignificantMove:   cfg.Volatility.SignificantMove,
		FetchTimeout:      cfg.Volatility.FetchTimeout.Duration,
		RetryAfter:        cfg.Volatility.RetryAfter.Duration,
	}, a.logger)

	markets := service.NewMarketService(
		deps.Provider,
		deps.Recorder,
		estimator,
		cfg.MarketData.Timeout.Duration,
		a.logger.With(slog.String("component", "market_service")),
	)

	pools := amm.NewService(amm.Config{
		MinLiquidity:     decimal.NewFromFloat(cfg.Pool.MinLiquidity),
		LPFee:            decimal.NewFromFloat(cfg.Pool.LPFee),
		ProtocolFee:      decimal.NewFromFloat(cfg.Pool.ProtocolFee),
		BaseVolatility:   cfg.Pool.BaseVolatility,
		RiskFreeRate:     cfg.Engine.RiskFreeRate,
		MaxImpact:        cfg.Pool.MaxImpact,
		ImpactMultiplier: cfg.Pool.ImpactMultiplier,
		FallbackBand:     cfg.Pool.FallbackBand,
	}, a.logger)
	book := orderbook.NewService(a.logger)

	trading := service.NewTradingService(service.TradingDeps{
		Markets:    markets,
		Volatility: estimator,
		Pools:      pools,
		Book:       book,
		Router:     router.New(pools, book, a.logger),
		Allocator:  allocator.New(pools, a.logger),
		RiskFree:   cfg.Engine.RiskFreeRate,
		Trades:     deps.TradeStore,
		Orders:     deps.OrderStore,
		Liquidity:  deps.LiquidityStore,
		Audit:      deps.AuditStore,
		Quotes:     deps.QuoteCache,
		Books:      deps.BookCache,
		Bus:        deps.SignalBus,
	}, a.logger)

	return &engine{markets: markets, trading: trading}
}

// ServerMode runs the HTTP API over the engine.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("server mode: server.enabled is false")
	}

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// FullMode adds market refresh with history recording and the archive job
// to server mode.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Int("markets", len(a.cfg.MarketData.Markets)),
	)

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)

	a.startMarketData(ctx, g, deps, eng)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	} else {
		a.logger.InfoContext(ctx, "full mode: archive disabled")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	return g.Wait()
}

// LocalMode runs without Postgres, Redis or S3: the bus and rate limiter are
// in-process and history lives in SQLite.
func (a *App) LocalMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting local mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)

	a.startMarketData(ctx, g, deps, eng)

	if deps.HistoryPruner != nil {
		g.Go(func() error {
			return every(ctx, 24*time.Hour, func(ctx context.Context) {
				n, err := deps.HistoryPruner.PruneExpired(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "local mode: history prune failed",
						slog.String("error", err.Error()),
					)
					return
				}
				a.logger.InfoContext(ctx, "local mode: history pruned", slog.Int64("rows", n))
			})
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	return g.Wait()
}

// startMarketData polls the configured markets and, when a WebSocket host is
// set, streams live prices for them. Both feed history recording and the
// volatility estimator's move detection.
func (a *App) startMarketData(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	markets := a.cfg.MarketData.Markets
	g.Go(func() error {
		return eng.markets.RunRefresher(ctx, markets, a.cfg.MarketData.RefreshInterval.Duration)
	})
	if a.cfg.MarketData.WSHost == "" || len(markets) == 0 || deps.Tokens == nil {
		return
	}
	live := feed.NewMarketFeed(a.cfg.MarketData.WSHost, markets, deps.Tokens, eng.markets, a.logger)
	g.Go(func() error {
		return live.Run(ctx)
	})
}

// runArchiveLoop archives old trades and orders once per interval. When a
// lock manager is wired only the replica holding the lock archives.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	return every(ctx, interval, func(ctx context.Context) {
		if deps.LockManager != nil {
			unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, interval)
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive: skipped, another replica holds the lock")
				return
			}
			if err != nil {
				a.logger.WarnContext(ctx, "archive: lock unavailable", slog.String("error", err.Error()))
				return
			}
			defer unlock()
		}
		a.archiveOnce(ctx, deps.Archiver)
	})
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	trades, err := archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: trades failed", slog.String("error", err.Error()))
	}
	orders, err := archiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: orders failed", slog.String("error", err.Error()))
	}
	a.logger.InfoContext(ctx, "archive: completed",
		slog.Time("cutoff", cutoff),
		slog.Int64("trades", trades),
		slog.Int64("orders", orders),
	)
}

// every runs fn immediately and then on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startHTTPServer adds the WebSocket hub and HTTP server to g. The server
// shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	strategy, err := allocator.ParseStrategy(a.cfg.Allocator.DefaultStrategy)
	if err != nil {
		strategy = allocator.StrategyEqual
	}
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Quotes:      handler.NewQuoteHandler(eng.trading, a.logger),
		Orders:      handler.NewOrderHandler(eng.trading, a.logger),
		Trades:      handler.NewTradeHandler(eng.trading, a.logger),
		Pools:       handler.NewPoolHandler(eng.trading, a.logger),
		Allocations: handler.NewAllocationHandler(eng.trading, strategy, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
