package orderbook

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

func newTestService() *Service {
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testContract(t *testing.T) domain.ContractID {
	t.Helper()
	c, err := domain.NewContractID("fed-cut", 60, domain.OptionTypeCall, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return c
}

func place(t *testing.T, s *Service, c domain.ContractID, owner string, side domain.OrderSide, price float64, qty int64) Outcome {
	t.Helper()
	out, err := s.PlaceOrder(context.Background(), c, owner, side, price, qty)
	require.NoError(t, err)
	return out
}

func assertUncrossed(t *testing.T, s *Service, c domain.ContractID) {
	t.Helper()
	st, err := s.BookState(c)
	require.NoError(t, err)
	if st.HasBid && st.HasAsk {
		assert.Less(t, st.BestBid, st.BestAsk)
	}
}

func TestCrossTradesAtEarlierOrderPrice(t *testing.T) {
	s := newTestService()
	c := testContract(t)

	bid := place(t, s, c, "alice", domain.OrderSideBid, 0.40, 100)
	assert.Empty(t, bid.Trades)

	ask := place(t, s, c, "bob", domain.OrderSideAsk, 0.35, 100)
	require.Len(t, ask.Trades, 1)
	trade := ask.Trades[0]
	assert.Equal(t, 0.40, trade.Price)
	assert.Equal(t, int64(100), trade.Quantity)
	assert.Equal(t, bid.Order.ID, trade.BuyOrderID)
	assert.Equal(t, ask.Order.ID, trade.SellOrderID)

	for _, id := range []string{bid.Order.ID, ask.Order.ID} {
		o, err := s.GetOrder(id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusFilled, o.Status)
		assert.Equal(t, int64(100), o.Filled)
		assert.NotNil(t, o.FilledAt)
	}

	st, err := s.BookState(c)
	require.NoError(t, err)
	assert.Empty(t, st.Bids)
	assert.Empty(t, st.Asks)
	assert.Len(t, ask.Updated, 2)
}

func TestRestingAskPriceWinsWhenEarlier(t *testing.T) {
	s := newTestService()
	c := testContract(t)

	place(t, s, c, "bob", domain.OrderSideAsk, 0.35, 50)
	out := place(t, s, c, "alice", domain.OrderSideBid, 0.40, 80)

	require.Len(t, out.Trades, 1)
	assert.Equal(t, 0.35, out.Trades[0].Price)
	assert.Equal(t, int64(50), out.Trades[0].Quantity)
	assert.Equal(t, domain.OrderStatusActive, out.Order.Status)
	assert.Equal(t, int64(50), out.Order.Filled)

	st, err := s.BookState(c)
	require.NoError(t, err)
	require.Len(t, st.Bids, 1)
	assert.Equal(t, int64(30), st.Bids[0].AggregateQuantity)
	assert.Empty(t, st.Asks)
}

func TestPriceTimePriority(t *testing.T) {
	s := newTestService()
	c := testContract(t)

	first := place(t, s, c, "a", domain.OrderSideAsk, 0.50, 10)
	second := place(t, s, c, "b", domain.OrderSideAsk, 0.50, 10)
	better := place(t, s, c, "c", domain.OrderSideAsk, 0.45, 10)

	out := place(t, s, c, "taker", domain.OrderSideBid, 0.55, 25)
	require.Len(t, out.Trades, 3)
	assert.Equal(t, better.Order.ID, out.Trades[0].SellOrderID)
	assert.Equal(t, first.Order.ID, out.Trades[1].SellOrderID)
	assert.Equal(t, second.Order.ID, out.Trades[2].SellOrderID)
	assert.Equal(t, int64(5), out.Trades[2].Quantity)

	var total int64
	for _, tr := range out.Trades {
		total += tr.Quantity
	}
	assert.Equal(t, int64(25), total)
	assert.Equal(t, domain.OrderStatusFilled, out.Order.Status)
	assertUncrossed(t, s, c)
}

func TestPlaceOrderValidation(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	ctx := context.Background()

	_, err := s.PlaceOrder(ctx, c, "a", domain.OrderSideBid, 0.5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = s.PlaceOrder(ctx, c, "a", domain.OrderSideBid, 1.2, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = s.PlaceOrder(ctx, c, "a", "buy", 0.5, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = s.PlaceOrder(ctx, c, "", domain.OrderSideBid, 0.5, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = s.PlaceOrder(ctx, domain.ContractID{}, "a", domain.OrderSideBid, 0.5, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidContract)
}

func TestLimitPricesKeptExactly(t *testing.T) {
	s := newTestService()
	c := testContract(t)

	bid := place(t, s, c, "alice", domain.OrderSideBid, 0.40006, 10)
	ask := place(t, s, c, "bob", domain.OrderSideAsk, 0.40009, 10)
	assert.Empty(t, ask.Trades, "bid below ask must not trade")
	assert.Equal(t, 0.40006, bid.Order.LimitPrice)
	assert.Equal(t, 0.40009, ask.Order.LimitPrice)

	st, err := s.BookState(c)
	require.NoError(t, err)
	assert.Equal(t, 0.40006, st.BestBid)
	assert.Equal(t, 0.40009, st.BestAsk)

	high := place(t, s, c, "carol", domain.OrderSideAsk, 0.99996, 5)
	assert.Equal(t, 0.99996, high.Order.LimitPrice)
	_, err = s.PlaceOrder(context.Background(), c, "carol", domain.OrderSideBid, 0.00004, 5)
	assert.NoError(t, err)
	_, err = s.PlaceOrder(context.Background(), c, "carol", domain.OrderSideBid, 1, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = s.PlaceOrder(context.Background(), c, "carol", domain.OrderSideBid, 0, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestUnknownOrderIDs(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	b, err := s.book(c)
	require.NoError(t, err)
	s.register("ghost", b)

	_, err = s.GetOrder("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.CancelOrder(context.Background(), "ghost", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	price := 0.5
	_, err = s.UpdateOrder(context.Background(), "ghost", "alice", Amendment{LimitPrice: &price})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelOrder(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	ctx := context.Background()

	o := place(t, s, c, "alice", domain.OrderSideBid, 0.30, 10)

	_, err := s.CancelOrder(ctx, o.Order.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := s.CancelOrder(ctx, o.Order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = s.CancelOrder(ctx, o.Order.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = s.CancelOrder(ctx, "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	st, err := s.BookState(c)
	require.NoError(t, err)
	assert.False(t, st.HasBid)

	kept, err := s.GetOrder(o.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, kept.Status)
}

func TestUpdateOrderLosesPriorityAndMatches(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	ctx := context.Background()

	a := place(t, s, c, "a", domain.OrderSideBid, 0.40, 10)
	b := place(t, s, c, "b", domain.OrderSideBid, 0.40, 10)

	qty := int64(12)
	upd, err := s.UpdateOrder(ctx, a.Order.ID, "a", Amendment{Quantity: &qty})
	require.NoError(t, err)
	assert.Greater(t, upd.Order.Seq, b.Order.Seq)

	ask := place(t, s, c, "seller", domain.OrderSideAsk, 0.40, 10)
	require.Len(t, ask.Trades, 1)
	assert.Equal(t, b.Order.ID, ask.Trades[0].BuyOrderID)

	price := 0.45
	_, err = s.UpdateOrder(ctx, a.Order.ID, "b", Amendment{LimitPrice: &price})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	place(t, s, c, "seller", domain.OrderSideAsk, 0.45, 5)
	moved, err := s.UpdateOrder(ctx, a.Order.ID, "a", Amendment{LimitPrice: &price})
	require.NoError(t, err)
	require.Len(t, moved.Trades, 1)
	assert.Equal(t, 0.45, moved.Trades[0].Price)
	assert.Equal(t, int64(5), moved.Order.Filled)

	small := int64(5)
	_, err = s.UpdateOrder(ctx, a.Order.ID, "a", Amendment{Quantity: &small})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assertUncrossed(t, s, c)
}

func TestMarketOrder(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	ctx := context.Background()

	place(t, s, c, "m1", domain.OrderSideAsk, 0.50, 10)
	place(t, s, c, "m2", domain.OrderSideAsk, 0.60, 10)

	res, updated, err := s.ExecuteMarketOrder(ctx, c, "taker", true, 15)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOrderBook, res.Venue)
	require.Len(t, res.Trades, 2)
	assert.InDelta(t, (0.50*10+0.60*5)/15, res.AvgPrice, 1e-9)
	assert.Len(t, updated, 3)

	st, err := s.BookState(c)
	require.NoError(t, err)
	require.Len(t, st.Asks, 1)
	assert.Equal(t, int64(5), st.Asks[0].AggregateQuantity)

	taker := updated[0]
	assert.Equal(t, domain.OrderStatusFilled, taker.Status)
	assert.Equal(t, "taker", taker.OwnerID)
}

func TestMarketOrderInsufficientDepthLeavesBookUntouched(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	ctx := context.Background()

	place(t, s, c, "m1", domain.OrderSideBid, 0.50, 10)
	before, err := s.BookState(c)
	require.NoError(t, err)

	_, _, err = s.ExecuteMarketOrder(ctx, c, "taker", false, 11)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	after, err := s.BookState(c)
	require.NoError(t, err)
	assert.Equal(t, before.Bids, after.Bids)

	trades, err := s.Trades(c)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBestExecutionVenue(t *testing.T) {
	s := newTestService()
	c := testContract(t)
	quote := domain.PoolQuote{Bid: 0.48, Ask: 0.52}

	d, err := s.BestExecutionVenue(c, true, 10, quote)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueAMM, d.Venue)
	assert.Equal(t, "no book liquidity", d.Reason)

	place(t, s, c, "m", domain.OrderSideAsk, 0.52, 10)
	d, err = s.BestExecutionVenue(c, true, 10, quote)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOrderBook, d.Venue, "tie goes to the book")

	d, err = s.BestExecutionVenue(c, true, 11, quote)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueAMM, d.Venue)

	place(t, s, c, "m", domain.OrderSideBid, 0.45, 10)
	d, err = s.BestExecutionVenue(c, false, 5, quote)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueAMM, d.Venue)
	assert.Equal(t, 0.45, d.BookPrice)
}

func TestConcurrentPlacementNeverCrosses(t *testing.T) {
	s := newTestService()
	c := testContract(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := domain.OrderSideBid
			if i%2 == 1 {
				side = domain.OrderSideAsk
			}
			price := 0.40 + float64(i%7)*0.01
			_, err := s.PlaceOrder(context.Background(), c, "u", side, price, int64(1+i%5))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assertUncrossed(t, s, c)

	var filledBuy, filledSell int64
	for _, o := range s.OrdersByOwner("u") {
		if o.Side == domain.OrderSideBid {
			filledBuy += o.Filled
		} else {
			filledSell += o.Filled
		}
	}
	trades, err := s.Trades(c)
	require.NoError(t, err)
	var traded int64
	for _, tr := range trades {
		traded += tr.Quantity
	}
	assert.Equal(t, traded, filledBuy)
	assert.Equal(t, traded, filledSell)
}
