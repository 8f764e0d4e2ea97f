package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var _ domain.BookCache = (*BookCache)(nil)

// BookCache stores the derived book state per contract.
//
// Key schema:
//
//	book:{contractKey}:bbo    - hash with "bid" and "ask" (absent when that side is empty)
//	book:{contractKey}:state  - full BookState as JSON
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBBOKey(contractKey string) string   { return "book:" + contractKey + ":bbo" }
func bookStateKey(contractKey string) string { return "book:" + contractKey + ":state" }

// SetBook atomically replaces the cached state for the book's contract.
func (bc *BookCache) SetBook(ctx context.Context, state domain.BookState) error {
	key := state.Contract.Key()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", key, err)
	}

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bookBBOKey(key))
	if state.HasBid {
		pipe.HSet(ctx, bookBBOKey(key), "bid", formatFloat(state.BestBid))
	}
	if state.HasAsk {
		pipe.HSet(ctx, bookBBOKey(key), "ask", formatFloat(state.BestAsk))
	}
	pipe.Set(ctx, bookStateKey(key), raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", key, err)
	}
	return nil
}

// GetBBO returns the cached best bid and ask. A missing side is 0; a
// contract with no cached book yields domain.ErrNotFound.
func (bc *BookCache) GetBBO(ctx context.Context, contractKey string) (float64, float64, error) {
	pipe := bc.rdb.Pipeline()
	bboCmd := pipe.HGetAll(ctx, bookBBOKey(contractKey))
	existsCmd := pipe.Exists(ctx, bookStateKey(contractKey))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", contractKey, err)
	}
	if existsCmd.Val() == 0 {
		return 0, 0, domain.ErrNotFound
	}

	vals := bboCmd.Val()
	bid, _ := strconv.ParseFloat(vals["bid"], 64)
	ask, _ := strconv.ParseFloat(vals["ask"], 64)
	return bid, ask, nil
}

// GetBook returns the full cached book state.
func (bc *BookCache) GetBook(ctx context.Context, contractKey string) (domain.BookState, error) {
	raw, err := bc.rdb.Get(ctx, bookStateKey(contractKey)).Bytes()
	if err == redis.Nil {
		return domain.BookState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BookState{}, fmt.Errorf("redis: get book %s: %w", contractKey, err)
	}
	var state domain.BookState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.BookState{}, fmt.Errorf("redis: unmarshal book %s: %w", contractKey, err)
	}
	return state, nil
}
