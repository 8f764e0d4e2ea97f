package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/allocator"
	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/cache/memory"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
	"github.com/alanyoungcy/polyoptions/internal/router"
	"github.com/alanyoungcy/polyoptions/internal/server/handler"
	"github.com/alanyoungcy/polyoptions/internal/service"
)

const testKey = "secret"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubProvider map[string]float64

func (p stubProvider) GetSnapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	prob, ok := p[marketID]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return domain.MarketSnapshot{MarketID: marketID, Probability: prob, Timestamp: time.Now(), Liquidity: 100_000}, nil
}

type flatVol float64

func (v flatVol) Estimate(context.Context, string, float64) float64 { return float64(v) }

func newTestServer(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Checker) http.Handler {
	t.Helper()
	pools := amm.NewService(amm.DefaultConfig(), discard)
	book := orderbook.NewService(discard)
	svc := service.NewTradingService(service.TradingDeps{
		Markets:    service.NewMarketService(stubProvider{"btc": 0.55}, nil, nil, time.Second, discard),
		Volatility: flatVol(0.5),
		Pools:      pools,
		Book:       book,
		Router:     router.New(pools, book, discard),
		Allocator:  allocator.New(pools, discard),
		RiskFree:   0.05,
		Bus:        memory.NewBus(),
	}, discard)

	h := Handlers{
		Health:      handler.NewHealthHandler(checks, discard),
		Quotes:      handler.NewQuoteHandler(svc, discard),
		Orders:      handler.NewOrderHandler(svc, discard),
		Trades:      handler.NewTradeHandler(svc, discard),
		Pools:       handler.NewPoolHandler(svc, discard),
		Allocations: handler.NewAllocationHandler(svc, allocator.StrategyEqual, discard),
	}
	return NewServer(cfg, h, nil, limiter, discard).Handler()
}

func contractKey() string {
	return "btc:60:call:" + time.Now().AddDate(0, 0, 20).UTC().Format(time.DateOnly)
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestServer(t, Config{APIKey: testKey}, nil, map[string]handler.Checker{
		"postgres": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthDegraded(t *testing.T) {
	h := newTestServer(t, Config{}, nil, map[string]handler.Checker{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, Config{APIKey: testKey}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quote?contract="+contractKey(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/quote?contract="+contractKey(), nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuote(t *testing.T) {
	h := newTestServer(t, Config{APIKey: testKey}, nil, nil)

	expiry := time.Now().AddDate(0, 0, 20).UTC().Format(time.DateOnly)
	rec := do(t, h, http.MethodGet, "/api/quote?market_id=btc&strike=60&type=call&expiry="+expiry, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	q := decode[service.QuoteView](t, rec)
	assert.Equal(t, 0.5, q.Volatility)
	assert.Greater(t, q.Theoretical.Mid, 0.0)
	assert.Less(t, q.Theoretical.Bid, q.Theoretical.Ask)
}

func TestQuoteErrors(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/quote?contract=btc:160:call:2030-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/quote?contract=doge:50:put:2030-01-01", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderLifecycle(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)
	key := contractKey()

	rec := do(t, h, http.MethodPost, "/api/orders", map[string]any{
		"contract": key, "owner_id": "alice", "side": "bid", "price": 0.40, "quantity": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bid := decode[orderbook.Outcome](t, rec)
	assert.Empty(t, bid.Trades)

	rec = do(t, h, http.MethodPost, "/api/orders", map[string]any{
		"contract": key, "owner_id": "bob", "side": "ask", "price": 0.35, "quantity": 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ask := decode[orderbook.Outcome](t, rec)
	require.Len(t, ask.Trades, 1)
	assert.InDelta(t, 0.40, ask.Trades[0].Price, 1e-9)
	assert.EqualValues(t, 4, ask.Trades[0].Quantity)

	rec = do(t, h, http.MethodGet, "/api/orders/"+bid.Order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decode[domain.Order](t, rec).Filled)

	rec = do(t, h, http.MethodDelete, "/api/orders/"+bid.Order.ID+"?owner_id=bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/orders/"+bid.Order.ID, map[string]any{"owner_id": "alice", "price": 0.42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 0.42, decode[orderbook.Outcome](t, rec).Order.LimitPrice, 1e-9)

	rec = do(t, h, http.MethodDelete, "/api/orders/"+bid.Order.ID+"?owner_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusCancelled, decode[domain.Order](t, rec).Status)

	rec = do(t, h, http.MethodDelete, "/api/orders/"+bid.Order.ID+"?owner_id=alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/orders?owner_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.Order](t, rec)["orders"], 1)

	rec = do(t, h, http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketOrderInsufficientDepth(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)
	key := contractKey()

	rec := do(t, h, http.MethodPost, "/api/orders", map[string]any{
		"contract": key, "owner_id": "alice", "side": "ask", "price": 0.50, "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/orders/market", map[string]any{
		"contract": key, "owner_id": "bob", "side": "buy", "quantity": 6,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/book?contract="+key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[domain.BookState](t, rec)
	require.Len(t, state.Asks, 1)
	assert.EqualValues(t, 5, state.Asks[0].AggregateQuantity)
}

func TestRejectsBadBodies(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/orders", map[string]any{"contract": contractKey(), "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/trades", map[string]any{"contract": contractKey(), "side": "hold", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAMMTradeAndRoute(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)
	key := contractKey()

	rec := do(t, h, http.MethodPost, "/api/trades", map[string]any{"contract": key, "side": "buy", "quantity": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[domain.ExecutionResult](t, rec)
	assert.Equal(t, domain.VenueAMM, res.Venue)
	assert.EqualValues(t, 10, res.Quantity)

	rec = do(t, h, http.MethodPost, "/api/route", map[string]any{"contract": key, "side": "buy", "quantity": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dec := decode[domain.VenueDecision](t, rec)
	assert.Equal(t, domain.VenueAMM, dec.Venue)

	rec = do(t, h, http.MethodPost, "/api/route", map[string]any{
		"contract": key, "owner_id": "carol", "side": "sell", "quantity": 5, "execute": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLiquidityEndpoints(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)
	key := contractKey()

	rec := do(t, h, http.MethodPost, "/api/liquidity", map[string]any{"contract": key, "provider_id": "lp1", "amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[domain.PoolStats](t, rec)
	assert.True(t, stats.TotalLiquidity.Equal(decimal.NewFromInt(1500)), stats.TotalLiquidity.String())

	rec = do(t, h, http.MethodGet, "/api/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]domain.PoolStats](t, rec)["pools"], 1)

	rec = do(t, h, http.MethodDelete, "/api/liquidity", map[string]any{"contract": key, "provider_id": "lp1", "amount": "900"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/liquidity", map[string]any{"contract": key, "provider_id": "lp1", "amount": "200"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wd := decode[amm.Withdrawal](t, rec)
	assert.True(t, wd.Remaining.Equal(decimal.NewFromInt(300)), wd.Remaining.String())
}

func TestAllocationEndpoints(t *testing.T) {
	h := newTestServer(t, Config{}, nil, nil)
	expiry := time.Now().AddDate(0, 0, 20).UTC().Format(time.DateOnly)

	rec := do(t, h, http.MethodPost, "/api/allocations", map[string]any{
		"contributor_id": "fund",
		"amount":         "1000",
		"contracts": []map[string]any{
			{"market_id": "btc", "strike": 40, "type": "call", "expiry": expiry},
			{"market_id": "btc", "strike": 60, "type": "call", "expiry": expiry},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	alloc := decode[allocator.Allocation](t, rec)
	require.Len(t, alloc.Legs, 2)
	assert.True(t, alloc.Legs[0].Amount.Add(alloc.Legs[1].Amount).Equal(decimal.NewFromInt(1000)))

	rec = do(t, h, http.MethodGet, "/api/allocations?contributor_id=fund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]allocator.Leg](t, rec)["legs"], 2)

	rec = do(t, h, http.MethodDelete, "/api/allocations?contributor_id=fund", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/allocations", map[string]any{
		"contributor_id": "fund", "amount": "10", "strategy": "random",
		"contracts": []map[string]any{{"contract": contractKey()}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Config{RateLimit: 2, RateWindow: time.Minute}, memory.NewRateLimiter(), nil)

	for range 2 {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/pools", nil).Code)
	}
	rec := do(t, h, http.MethodGet, "/api/pools", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Config{APIKey: testKey, CORSOrigins: []string{"https://app.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
