// Package orderbook implements a per-contract price-time priority limit
// order book.
package orderbook

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// Outcome reports the effect of an order operation. Updated holds a copy of
// every order whose state changed, including Order itself.
type Outcome struct {
	Order   domain.Order   `json:"order"`
	Trades  []domain.Trade `json:"trades"`
	Updated []domain.Order `json:"-"`
}

// Amendment changes the price or quantity of a resting order. Nil fields
// are left unchanged.
type Amendment struct {
	LimitPrice *float64
	Quantity   *int64
}

// Service owns the books of every contract.
type Service struct {
	logger *slog.Logger
	now    func() time.Time
	seq    atomic.Uint64

	mu    sync.RWMutex
	books map[string]*book
	index map[string]*book
}

// NewService creates an order book Service.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		logger: logger.With(slog.String("component", "orderbook")),
		now:    time.Now,
		books:  make(map[string]*book),
		index:  make(map[string]*book),
	}
}

func (s *Service) book(contract domain.ContractID) (*book, error) {
	if err := contract.Validate(); err != nil {
		return nil, fmt.Errorf("orderbook: %w", err)
	}
	key := contract.Key()

	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if ok {
		return b, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[key]; ok {
		return b, nil
	}
	b = newBook(contract)
	s.books[key] = b
	return b, nil
}

func (s *Service) register(id string, b *book) {
	s.mu.Lock()
	s.index[id] = b
	s.mu.Unlock()
}

func (s *Service) lookup(id string) (*book, error) {
	s.mu.RLock()
	b, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("orderbook: order %q: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// PlaceOrder validates and rests a limit order, then matches the book.
func (s *Service) PlaceOrder(ctx context.Context, contract domain.ContractID, ownerID string, side domain.OrderSide, limitPrice float64, quantity int64) (Outcome, error) {
	price, err := validateOrder(ownerID, side, limitPrice, quantity)
	if err != nil {
		return Outcome{}, err
	}
	b, err := s.book(contract)
	if err != nil {
		return Outcome{}, err
	}

	now := s.now().UTC()
	o := &domain.Order{
		ID:         uuid.NewString(),
		Contract:   contract,
		OwnerID:    ownerID,
		Side:       side,
		LimitPrice: price,
		Quantity:   quantity,
		Status:     domain.OrderStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.mu.Lock()
	o.Seq = s.seq.Add(1)
	b.orders[o.ID] = o
	b.insertLocked(o)
	trades, touched := b.matchLocked(now)
	out := Outcome{
		Order:   *o,
		Trades:  trades,
		Updated: b.snapshotLocked(append([]string{o.ID}, touched...)),
	}
	b.mu.Unlock()
	s.register(o.ID, b)

	s.logger.InfoContext(ctx, "orderbook: order placed",
		slog.String("order_id", o.ID),
		slog.String("contract", contract.Key()),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Int64("quantity", quantity),
		slog.Int("trades", len(trades)),
	)
	return out, nil
}

// CancelOrder cancels an active order. Only the owner may cancel.
func (s *Service) CancelOrder(ctx context.Context, orderID, ownerID string) (domain.Order, error) {
	b, err := s.lookup(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, fmt.Errorf("orderbook: order %q: %w", orderID, domain.ErrNotFound)
	}
	if o.OwnerID != ownerID {
		b.mu.Unlock()
		return domain.Order{}, fmt.Errorf("orderbook: cancel %q: %w", orderID, domain.ErrUnauthorized)
	}
	if !o.IsActive() {
		status := o.Status
		b.mu.Unlock()
		return domain.Order{}, fmt.Errorf("orderbook: cancel %q in status %s: %w", orderID, status, domain.ErrInvalidState)
	}
	now := s.now().UTC()
	b.removeLocked(o)
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = now
	o.CancelledAt = &now
	out := *o
	b.mu.Unlock()

	s.logger.InfoContext(ctx, "orderbook: order cancelled",
		slog.String("order_id", orderID),
		slog.String("contract", out.Contract.Key()),
	)
	return out, nil
}

// UpdateOrder amends an active order. The order loses its time priority
// and the book is matched again. Quantity may not fall to or below the
// amount already filled.
func (s *Service) UpdateOrder(ctx context.Context, orderID, ownerID string, a Amendment) (Outcome, error) {
	if a.LimitPrice == nil && a.Quantity == nil {
		return Outcome{}, fmt.Errorf("orderbook: update %q: nothing to change: %w", orderID, domain.ErrInvalidOrder)
	}
	b, err := s.lookup(orderID)
	if err != nil {
		return Outcome{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return Outcome{}, fmt.Errorf("orderbook: order %q: %w", orderID, domain.ErrNotFound)
	}
	if o.OwnerID != ownerID {
		return Outcome{}, fmt.Errorf("orderbook: update %q: %w", orderID, domain.ErrUnauthorized)
	}
	if !o.IsActive() {
		return Outcome{}, fmt.Errorf("orderbook: update %q in status %s: %w", orderID, o.Status, domain.ErrInvalidState)
	}

	price, qty := o.LimitPrice, o.Quantity
	if a.LimitPrice != nil {
		price = *a.LimitPrice
	}
	if a.Quantity != nil {
		qty = *a.Quantity
	}
	price, err = validateOrder(o.OwnerID, o.Side, price, qty)
	if err != nil {
		return Outcome{}, err
	}
	if qty <= o.Filled {
		return Outcome{}, fmt.Errorf("orderbook: update %q: quantity %d not above filled %d: %w",
			orderID, qty, o.Filled, domain.ErrInvalidOrder)
	}

	now := s.now().UTC()
	b.removeLocked(o)
	o.LimitPrice = price
	o.Quantity = qty
	o.UpdatedAt = now
	o.Seq = s.seq.Add(1)
	b.insertLocked(o)
	trades, touched := b.matchLocked(now)

	s.logger.InfoContext(ctx, "orderbook: order updated",
		slog.String("order_id", orderID),
		slog.Float64("price", price),
		slog.Int64("quantity", qty),
		slog.Int("trades", len(trades)),
	)
	return Outcome{
		Order:   *o,
		Trades:  trades,
		Updated: b.snapshotLocked(append([]string{o.ID}, touched...)),
	}, nil
}

// ExecuteMarketOrder consumes resting orders on the opposite side from the
// best price. It is rejected with no effect if the side's total depth is
// below quantity. The taker is recorded as a filled order.
func (s *Service) ExecuteMarketOrder(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64) (domain.ExecutionResult, []domain.Order, error) {
	if quantity <= 0 {
		return domain.ExecutionResult{}, nil, fmt.Errorf("orderbook: market order: quantity %d: %w", quantity, domain.ErrInvalidOrder)
	}
	if ownerID == "" {
		return domain.ExecutionResult{}, nil, fmt.Errorf("orderbook: market order: owner required: %w", domain.ErrInvalidOrder)
	}
	b, err := s.book(contract)
	if err != nil {
		return domain.ExecutionResult{}, nil, err
	}

	now := s.now().UTC()
	taker := &domain.Order{
		ID:        uuid.NewString(),
		Contract:  contract,
		OwnerID:   ownerID,
		Side:      domain.OrderSideBid,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !isBuy {
		taker.Side = domain.OrderSideAsk
	}

	b.mu.Lock()
	opposite := b.asks
	if !isBuy {
		opposite = b.bids
	}
	if depth := b.depthLocked(opposite); depth < quantity {
		b.mu.Unlock()
		return domain.ExecutionResult{}, nil, fmt.Errorf("orderbook: market order for %d with depth %d: %w",
			quantity, depth, domain.ErrInsufficientLiquidity)
	}

	// Plan every fill before mutating so the book is untouched on failure.
	type fill struct {
		maker *domain.Order
		qty   int64
	}
	var plan []fill
	left := quantity
	for _, maker := range opposite {
		if left == 0 {
			break
		}
		q := min(left, maker.Remaining())
		plan = append(plan, fill{maker: maker, qty: q})
		left -= q
	}

	taker.Seq = s.seq.Add(1)
	var (
		trades   []domain.Trade
		touched  []string
		consumed int
		notional = decimal.Zero
	)
	for _, f := range plan {
		f.maker.Filled += f.qty
		f.maker.UpdatedAt = now
		if f.maker.Remaining() == 0 {
			markFilled(f.maker, now)
			consumed++
		}
		t := domain.Trade{
			ID:        uuid.NewString(),
			Contract:  contract,
			Price:     f.maker.LimitPrice,
			Quantity:  f.qty,
			Fee:       decimal.Zero,
			Venue:     domain.VenueOrderBook,
			Timestamp: now,
		}
		if isBuy {
			t.BuyOrderID, t.SellOrderID = taker.ID, f.maker.ID
		} else {
			t.BuyOrderID, t.SellOrderID = f.maker.ID, taker.ID
		}
		trades = append(trades, t)
		touched = append(touched, f.maker.ID)
		notional = notional.Add(t.Notional())
		taker.LimitPrice = f.maker.LimitPrice
	}
	if isBuy {
		b.asks = b.asks[consumed:]
	} else {
		b.bids = b.bids[consumed:]
	}
	taker.Filled = quantity
	markFilled(taker, now)
	b.orders[taker.ID] = taker
	b.trades = append(b.trades, trades...)
	updated := b.snapshotLocked(append([]string{taker.ID}, touched...))
	b.mu.Unlock()
	s.register(taker.ID, b)

	avg, _ := notional.Div(decimal.NewFromInt(quantity)).Float64()
	s.logger.InfoContext(ctx, "orderbook: market order executed",
		slog.String("order_id", taker.ID),
		slog.String("contract", contract.Key()),
		slog.Bool("is_buy", isBuy),
		slog.Int64("quantity", quantity),
		slog.Float64("avg_price", avg),
	)
	return domain.ExecutionResult{
		Venue:    domain.VenueOrderBook,
		Contract: contract,
		IsBuy:    isBuy,
		Quantity: quantity,
		AvgPrice: avg,
		Fee:      decimal.Zero,
		Trades:   trades,
	}, updated, nil
}

// BookState returns the aggregated levels of contract's book.
func (s *Service) BookState(contract domain.ContractID) (domain.BookState, error) {
	b, err := s.book(contract)
	if err != nil {
		return domain.BookState{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(s.now().UTC()), nil
}

// BestExecutionVenue picks the venue with the better price for the taker.
// The AMM is chosen when the book's best level cannot fill quantity; ties
// go to the book.
func (s *Service) BestExecutionVenue(contract domain.ContractID, isBuy bool, quantity int64, ammQuote domain.PoolQuote) (domain.VenueDecision, error) {
	st, err := s.BookState(contract)
	if err != nil {
		return domain.VenueDecision{}, err
	}

	d := domain.VenueDecision{Venue: domain.VenueAMM, AMMPrice: ammQuote.Bid}
	side := st.Bids
	if isBuy {
		d.AMMPrice = ammQuote.Ask
		side = st.Asks
	}
	if len(side) == 0 {
		d.Reason = "no book liquidity"
		return d, nil
	}
	best := side[0]
	d.BookPrice = best.Price
	d.BookDepth = best.AggregateQuantity
	if best.AggregateQuantity < quantity {
		d.Reason = "insufficient depth at best price"
		return d, nil
	}

	better := best.Price <= d.AMMPrice
	if !isBuy {
		better = best.Price >= d.AMMPrice
	}
	if better {
		d.Venue = domain.VenueOrderBook
		d.Reason = "book price better or equal"
		return d, nil
	}
	d.Reason = "amm price better"
	return d, nil
}

// GetOrder returns an order by id, in any status.
func (s *Service) GetOrder(orderID string) (domain.Order, error) {
	b, err := s.lookup(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("orderbook: order %q: %w", orderID, domain.ErrNotFound)
	}
	return *o, nil
}

// OrdersByOwner returns every order placed by ownerID ordered by arrival.
func (s *Service) OrdersByOwner(ownerID string) []domain.Order {
	s.mu.RLock()
	books := make([]*book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	s.mu.RUnlock()

	var out []domain.Order
	for _, b := range books {
		b.mu.Lock()
		for _, o := range b.orders {
			if o.OwnerID == ownerID {
				out = append(out, *o)
			}
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Trades returns the trades executed in contract's book, oldest first.
func (s *Service) Trades(contract domain.ContractID) ([]domain.Trade, error) {
	b, err := s.book(contract)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Trade, len(b.trades))
	copy(out, b.trades)
	return out, nil
}

// validateOrder checks order fields. The limit price is returned unchanged.
func validateOrder(ownerID string, side domain.OrderSide, limitPrice float64, quantity int64) (float64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("orderbook: owner required: %w", domain.ErrInvalidOrder)
	}
	if side != domain.OrderSideBid && side != domain.OrderSideAsk {
		return 0, fmt.Errorf("orderbook: side %q: %w", side, domain.ErrInvalidOrder)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("orderbook: quantity %d: %w", quantity, domain.ErrInvalidOrder)
	}
	if math.IsNaN(limitPrice) || math.IsInf(limitPrice, 0) {
		return 0, fmt.Errorf("orderbook: limit price undefined: %w", domain.ErrInvalidOrder)
	}
	if limitPrice <= 0 || limitPrice >= 1 {
		return 0, fmt.Errorf("orderbook: limit price %v outside (0,1): %w", limitPrice, domain.ErrInvalidOrder)
	}
	return limitPrice, nil
}
