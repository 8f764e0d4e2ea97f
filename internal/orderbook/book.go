package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// book is one contract's limit order book. Bids are kept highest price
// first and asks lowest first; equal prices are ordered by Seq.
type book struct {
	mu sync.Mutex

	contract domain.ContractID
	bids     []*domain.Order
	asks     []*domain.Order
	orders   map[string]*domain.Order
	trades   []domain.Trade
}

func newBook(contract domain.ContractID) *book {
	return &book{
		contract: contract,
		orders:   make(map[string]*domain.Order),
	}
}

// insertLocked places o behind every resting order at the same or better
// price.
func (b *book) insertLocked(o *domain.Order) {
	if o.Side == domain.OrderSideBid {
		i := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].LimitPrice < o.LimitPrice })
		b.bids = insertAt(b.bids, i, o)
		return
	}
	i := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].LimitPrice > o.LimitPrice })
	b.asks = insertAt(b.asks, i, o)
}

func (b *book) removeLocked(o *domain.Order) {
	side := &b.asks
	if o.Side == domain.OrderSideBid {
		side = &b.bids
	}
	for i, r := range *side {
		if r.ID == o.ID {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return
		}
	}
}

// matchLocked crosses the book until the best bid is below the best ask.
// Each iteration fills at least one order completely, so it terminates.
// It returns the trades and the ids of every order it changed.
func (b *book) matchLocked(now time.Time) ([]domain.Trade, []string) {
	var (
		trades  []domain.Trade
		touched []string
	)
	for len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].LimitPrice >= b.asks[0].LimitPrice {
		bid, ask := b.bids[0], b.asks[0]

		price := ask.LimitPrice
		if bid.Seq < ask.Seq {
			price = bid.LimitPrice
		}
		qty := min(bid.Remaining(), ask.Remaining())

		bid.Filled += qty
		ask.Filled += qty
		bid.UpdatedAt, ask.UpdatedAt = now, now

		trade := domain.Trade{
			ID:          uuid.NewString(),
			Contract:    b.contract,
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			Price:       price,
			Quantity:    qty,
			Fee:         decimal.Zero,
			Venue:       domain.VenueOrderBook,
			Timestamp:   now,
		}
		trades = append(trades, trade)
		b.trades = append(b.trades, trade)
		touched = append(touched, bid.ID, ask.ID)

		if bid.Remaining() == 0 {
			markFilled(bid, now)
			b.bids = b.bids[1:]
		}
		if ask.Remaining() == 0 {
			markFilled(ask, now)
			b.asks = b.asks[1:]
		}
	}
	return trades, touched
}

// stateLocked aggregates active orders into price levels.
func (b *book) stateLocked(now time.Time) domain.BookState {
	st := domain.BookState{
		Contract:  b.contract,
		Bids:      levels(b.bids),
		Asks:      levels(b.asks),
		Timestamp: now,
	}
	if len(st.Bids) > 0 {
		st.HasBid = true
		st.BestBid = st.Bids[0].Price
	}
	if len(st.Asks) > 0 {
		st.HasAsk = true
		st.BestAsk = st.Asks[0].Price
	}
	if st.HasBid && st.HasAsk {
		st.Spread = st.BestAsk - st.BestBid
	}
	return st
}

func (b *book) depthLocked(side []*domain.Order) int64 {
	var total int64
	for _, o := range side {
		total += o.Remaining()
	}
	return total
}

func (b *book) snapshotLocked(ids []string) []domain.Order {
	seen := make(map[string]bool, len(ids))
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if o, ok := b.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

func levels(side []*domain.Order) []domain.BookLevel {
	out := make([]domain.BookLevel, 0)
	for _, o := range side {
		n := len(out)
		if n > 0 && out[n-1].Price == o.LimitPrice {
			out[n-1].AggregateQuantity += o.Remaining()
			out[n-1].OrderCount++
			continue
		}
		out = append(out, domain.BookLevel{Price: o.LimitPrice, AggregateQuantity: o.Remaining(), OrderCount: 1})
	}
	return out
}

func markFilled(o *domain.Order, now time.Time) {
	o.Status = domain.OrderStatusFilled
	t := now
	o.FilledAt = &t
}

func insertAt(s []*domain.Order, i int, o *domain.Order) []*domain.Order {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = o
	return s
}
