package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProvider struct {
	mu    sync.Mutex
	snaps map[string]domain.MarketSnapshot
	err   error
	calls int
}

func (f *fakeProvider) GetSnapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.MarketSnapshot{}, f.err
	}
	snap, ok := f.snaps[marketID]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeProvider) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu    sync.Mutex
	snaps []domain.MarketSnapshot
}

func (f *fakeRecorder) RecordSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

type fakeSignaler struct {
	mu    sync.Mutex
	moves map[string]float64
}

func (f *fakeSignaler) SignalMove(marketID string, p float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moves == nil {
		f.moves = make(map[string]float64)
	}
	f.moves[marketID] = p
	return false
}

type constVol float64

func (v constVol) Estimate(context.Context, string, float64) float64 { return float64(v) }

type fakeBus struct {
	mu      sync.Mutex
	pubs    map[string][][]byte
	streams map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubs == nil {
		b.pubs = make(map[string][][]byte)
	}
	b.pubs[channel] = append(b.pubs[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = make(map[string][][]byte)
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pubs[channel])
}

type fakeTrades struct {
	mu     sync.Mutex
	trades []domain.Trade
	err    error
}

func (f *fakeTrades) InsertBatch(_ context.Context, trades []domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.trades = append(f.trades, trades...)
	return nil
}

func (f *fakeTrades) ListByContract(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTrades) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func (f *fakeOrders) Upsert(_ context.Context, o domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orders == nil {
		f.orders = make(map[string]domain.Order)
	}
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) ListByOwner(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrders) ListBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

type fakeLiquidity struct {
	mu     sync.Mutex
	events []domain.LiquidityEvent
}

func (f *fakeLiquidity) Insert(_ context.Context, evt domain.LiquidityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeLiquidity) ListByProvider(context.Context, string, domain.ListOpts) ([]domain.LiquidityEvent, error) {
	return nil, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.PoolQuote
}

func (f *fakeQuotes) SetQuote(_ context.Context, q domain.PoolQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quotes == nil {
		f.quotes = make(map[string]domain.PoolQuote)
	}
	f.quotes[q.Contract.Key()] = q
	return nil
}

func (f *fakeQuotes) GetQuote(_ context.Context, key string) (domain.PoolQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[key]
	if !ok {
		return domain.PoolQuote{}, domain.ErrNotFound
	}
	return q, nil
}
