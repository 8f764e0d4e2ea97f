package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/allocator"
	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
	"github.com/alanyoungcy/polyoptions/internal/router"
)

type harness struct {
	svc       *TradingService
	bus       *fakeBus
	trades    *fakeTrades
	orders    *fakeOrders
	liquidity *fakeLiquidity
	audit     *fakeAudit
	quotes    *fakeQuotes
	contract  domain.ContractID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	provider := &fakeProvider{snaps: map[string]domain.MarketSnapshot{
		"btc": {MarketID: "btc", Probability: 0.55, Timestamp: time.Now(), Liquidity: 250_000},
		"eth": {MarketID: "eth", Probability: 0.20, Timestamp: time.Now(), Liquidity: 50_000},
	}}
	pools := amm.NewService(amm.DefaultConfig(), discard)
	book := orderbook.NewService(discard)
	h := &harness{
		bus:       &fakeBus{},
		trades:    &fakeTrades{},
		orders:    &fakeOrders{},
		liquidity: &fakeLiquidity{},
		audit:     &fakeAudit{},
		quotes:    &fakeQuotes{},
	}
	h.svc = NewTradingService(TradingDeps{
		Markets:    NewMarketService(provider, nil, nil, time.Second, discard),
		Volatility: constVol(0.6),
		Pools:      pools,
		Book:       book,
		Router:     router.New(pools, book, discard),
		Allocator:  allocator.New(pools, discard),
		RiskFree:   0.05,
		Trades:     h.trades,
		Orders:     h.orders,
		Liquidity:  h.liquidity,
		Audit:      h.audit,
		Quotes:     h.quotes,
		Bus:        h.bus,
	}, discard)

	c, err := domain.NewContractID("btc", 60, domain.OptionTypeCall, time.Now().AddDate(0, 0, 20))
	require.NoError(t, err)
	h.contract = c
	return h
}

func TestQuoteCombinesModelAndPool(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Quote(context.Background(), h.contract)
	require.NoError(t, err)
	assert.Equal(t, 0.6, q.Volatility)
	assert.Equal(t, "black_scholes_binary", q.Theoretical.Model)
	assert.False(t, math.IsNaN(q.Theoretical.Mid))
	assert.Less(t, q.Theoretical.Bid, q.Theoretical.Ask)
	assert.Less(t, q.Pool.Bid, q.Pool.Ask)

	cached, err := h.quotes.GetQuote(context.Background(), h.contract.Key())
	require.NoError(t, err)
	assert.Equal(t, q.Pool.Bid, cached.Bid)
	assert.Equal(t, 1, h.bus.count(domain.ChannelQuotes))
}

func TestQuoteShortDatedUsesTree(t *testing.T) {
	h := newHarness(t)
	c, err := domain.NewContractID("btc", 60, domain.OptionTypePut, time.Now().AddDate(0, 0, 2))
	require.NoError(t, err)

	q, err := h.svc.Quote(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "binomial", q.Theoretical.Model)
}

func TestQuoteUnknownMarket(t *testing.T) {
	h := newHarness(t)
	c, err := domain.NewContractID("nope", 50, domain.OptionTypeCall, time.Now().AddDate(0, 0, 20))
	require.NoError(t, err)

	_, err = h.svc.Quote(context.Background(), c)
	assert.ErrorIs(t, err, domain.ErrStaleOrMissingMarketData)
}

func TestPlaceOrderPersistsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.PlaceOrder(ctx, h.contract, "maker", domain.OrderSideAsk, 0.35, 10)
	require.NoError(t, err)
	out, err := h.svc.PlaceOrder(ctx, h.contract, "taker", domain.OrderSideBid, 0.40, 10)
	require.NoError(t, err)
	require.Len(t, out.Trades, 1)
	assert.Equal(t, 0.35, out.Trades[0].Price)

	require.Len(t, h.trades.trades, 1)
	assert.Len(t, h.orders.orders, 2)
	for _, o := range h.orders.orders {
		assert.Equal(t, domain.OrderStatusFilled, o.Status)
	}
	assert.Equal(t, 1, h.bus.count(domain.ChannelTrades))
	assert.Equal(t, 2, h.bus.count(domain.ChannelBook))
	assert.Len(t, h.bus.streams[domain.StreamTradeAudit], 1)
	assert.Contains(t, h.audit.events, "trades_executed")
}

func TestStoreFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.trades.err = errors.New("db down")
	ctx := context.Background()

	_, err := h.svc.PlaceOrder(ctx, h.contract, "maker", domain.OrderSideAsk, 0.35, 10)
	require.NoError(t, err)
	out, err := h.svc.PlaceOrder(ctx, h.contract, "taker", domain.OrderSideBid, 0.40, 4)
	require.NoError(t, err)
	assert.Len(t, out.Trades, 1)

	state, err := h.svc.BookState(ctx, h.contract)
	require.NoError(t, err)
	require.Len(t, state.Asks, 1)
	assert.Equal(t, int64(6), state.Asks[0].AggregateQuantity)
}

func TestCancelAndUpdateOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.svc.PlaceOrder(ctx, h.contract, "maker", domain.OrderSideBid, 0.30, 10)
	require.NoError(t, err)

	price := 0.32
	upd, err := h.svc.UpdateOrder(ctx, out.Order.ID, "maker", orderbook.Amendment{LimitPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, 0.32, upd.Order.LimitPrice)

	_, err = h.svc.CancelOrder(ctx, out.Order.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := h.svc.CancelOrder(ctx, out.Order.ID, "maker")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.OrderStatusCancelled, h.orders.orders[out.Order.ID].Status)

	got, err := h.svc.GetOrder(out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Len(t, h.svc.OrdersByOwner("maker"), 1)
}

func TestExecuteMarketOrderAndInsufficientDepth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.PlaceOrder(ctx, h.contract, "maker", domain.OrderSideAsk, 0.50, 5)
	require.NoError(t, err)

	_, err = h.svc.ExecuteMarketOrder(ctx, h.contract, "taker", true, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Empty(t, h.trades.trades)

	res, err := h.svc.ExecuteMarketOrder(ctx, h.contract, "taker", true, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOrderBook, res.Venue)
	assert.Len(t, h.trades.trades, 1)
}

func TestExecuteAMMTradePublishesPool(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ExecuteAMMTrade(context.Background(), h.contract, true, 20)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueAMM, res.Venue)
	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, domain.AMMCounterparty, h.trades.trades[0].SellOrderID)
	assert.Equal(t, 1, h.bus.count(domain.ChannelPools))
}

func TestExecuteBestPrefersCheaperBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.PlaceOrder(ctx, h.contract, "maker", domain.OrderSideAsk, 0.02, 50)
	require.NoError(t, err)

	dec, err := h.svc.Route(ctx, h.contract, true, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOrderBook, dec.Venue)

	exec, err := h.svc.ExecuteBest(ctx, h.contract, "taker", true, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOrderBook, exec.Result.Venue)
	assert.InDelta(t, 0.02, exec.Result.AvgPrice, 1e-12)
}

func TestLiquidityLifecycleRecordsEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := h.svc.AddLiquidity(ctx, h.contract, "lp", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, stats.TotalLiquidity.Equal(decimal.NewFromInt(1500)))

	w, err := h.svc.RemoveLiquidity(ctx, h.contract, "lp", decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, w.Remaining.Equal(decimal.NewFromInt(300)))

	_, err = h.svc.RemoveLiquidity(ctx, h.contract, "lp", decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	require.Len(t, h.liquidity.events, 2)
	assert.Equal(t, domain.LiquidityEventAdd, h.liquidity.events[0].Type)
	assert.Equal(t, domain.LiquidityEventRemove, h.liquidity.events[1].Type)
	assert.Len(t, h.svc.ListPools(), 1)
}

func TestAllocateATMAndWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 0, 20)
	near, err := domain.NewContractID("btc", 55, domain.OptionTypeCall, expiry)
	require.NoError(t, err)
	far, err := domain.NewContractID("eth", 90, domain.OptionTypeCall, expiry)
	require.NoError(t, err)

	alloc, err := h.svc.Allocate(ctx, "fund", decimal.NewFromInt(1000), []domain.ContractID{near, far}, allocator.StrategyATM)
	require.NoError(t, err)
	require.Len(t, alloc.Legs, 2)

	sum := decimal.Zero
	amounts := map[string]decimal.Decimal{}
	for _, leg := range alloc.Legs {
		sum = sum.Add(leg.Amount)
		amounts[leg.Contract.MarketID] = leg.Amount
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(1000)))
	assert.True(t, amounts["btc"].GreaterThan(amounts["eth"]))
	assert.Len(t, h.svc.Allocations("fund"), 2)
	assert.Len(t, h.liquidity.events, 2)

	w, err := h.svc.Withdraw(ctx, "fund")
	require.NoError(t, err)
	assert.True(t, w.Total.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, h.svc.Allocations("fund"))
	assert.Len(t, h.liquidity.events, 4)

	_, err = h.svc.Withdraw(ctx, "fund")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAllocateSkipsUnfundedLegs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	quiet, err := domain.NewContractID("eth", 20, domain.OptionTypePut, time.Now().AddDate(0, 0, 20))
	require.NoError(t, err)

	_, err = h.svc.ExecuteAMMTrade(ctx, h.contract, true, 10)
	require.NoError(t, err)
	before := len(h.liquidity.events)

	alloc, err := h.svc.Allocate(ctx, "fund", decimal.NewFromInt(500), []domain.ContractID{h.contract, quiet}, allocator.StrategyVolume)
	require.NoError(t, err)
	require.Len(t, alloc.Legs, 2)
	assert.True(t, alloc.Legs[0].Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, alloc.Legs[1].Amount.IsZero())

	require.Len(t, h.liquidity.events, before+1)
	evt := h.liquidity.events[before]
	assert.Equal(t, h.contract.Key(), evt.Contract.Key())
	assert.True(t, evt.Amount.Equal(decimal.NewFromInt(500)))
	assert.Len(t, h.svc.Allocations("fund"), 1)
}
