package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketDataProvider supplies the current upstream snapshot for a market.
type MarketDataProvider interface {
	GetSnapshot(ctx context.Context, marketID string) (MarketSnapshot, error)
}

// HistoricalStore returns a market's probability series over the last days.
// Points are returned oldest first.
type HistoricalStore interface {
	GetSeries(ctx context.Context, marketID string, days int) ([]HistoricalPoint, error)
}

// SnapshotRecorder persists observed snapshots so they can later be served
// as history.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, snap MarketSnapshot) error
}

// TradeStore persists executed trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByContract(ctx context.Context, contractKey string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// OrderStore persists limit orders and their state transitions.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// LiquidityEventStore persists provider liquidity changes.
type LiquidityEventStore interface {
	Insert(ctx context.Context, evt LiquidityEvent) error
	ListByProvider(ctx context.Context, providerID string, opts ListOpts) ([]LiquidityEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
