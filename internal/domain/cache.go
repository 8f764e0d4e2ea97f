package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to the latest AMM quote per contract.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PoolQuote) error
	GetQuote(ctx context.Context, contractKey string) (PoolQuote, error)
}

// BookCache stores the latest derived book state per contract.
type BookCache interface {
	SetBook(ctx context.Context, state BookState) error
	GetBBO(ctx context.Context, contractKey string) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion for periodic jobs.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Event channels published by the engine.
const (
	ChannelTrades    = "trades"
	ChannelOrders    = "orders"
	ChannelBook      = "book"
	ChannelPools     = "pools"
	ChannelQuotes    = "quotes"
	StreamTradeAudit = "stream:trades"
)
