package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/server/handler"
	"github.com/alanyoungcy/polyoptions/internal/server/middleware"
	"github.com/alanyoungcy/polyoptions/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers registered by the server.
type Handlers struct {
	Health      *handler.HealthHandler
	Quotes      *handler.QuoteHandler
	Orders      *handler.OrderHandler
	Trades      *handler.TradeHandler
	Pools       *handler.PoolHandler
	Allocations *handler.AllocationHandler
}

// Server is the HTTP + WebSocket API in front of the trading engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, rate limiting (when limiter is non-nil), then auth.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/quote", h.Quotes.GetQuote)

	mux.HandleFunc("GET /api/orders", h.Orders.ListOrders)
	mux.HandleFunc("POST /api/orders", h.Orders.PlaceOrder)
	mux.HandleFunc("POST /api/orders/market", h.Orders.MarketOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.Orders.GetOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", h.Orders.UpdateOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", h.Orders.CancelOrder)
	mux.HandleFunc("GET /api/book", h.Orders.GetBook)

	mux.HandleFunc("POST /api/trades", h.Trades.ExecuteAMM)
	mux.HandleFunc("POST /api/route", h.Trades.Route)

	mux.HandleFunc("GET /api/pools", h.Pools.ListPools)
	mux.HandleFunc("POST /api/liquidity", h.Pools.AddLiquidity)
	mux.HandleFunc("DELETE /api/liquidity", h.Pools.RemoveLiquidity)

	mux.HandleFunc("GET /api/allocations", h.Allocations.ListAllocations)
	mux.HandleFunc("POST /api/allocations", h.Allocations.Allocate)
	mux.HandleFunc("DELETE /api/allocations", h.Allocations.Withdraw)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health")(chain)
	if limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
