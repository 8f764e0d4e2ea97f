package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var _ domain.QuoteCache = (*QuoteCache)(nil)

// QuoteCache stores the latest pool quote per contract as a hash at
// "quote:{contractKey}". Entries expire after ttl so a stopped engine does
// not leave live-looking quotes behind.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. A zero ttl disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(contractKey string) string {
	return "quote:" + contractKey
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quoteFields(q domain.PoolQuote) map[string]any {
	return map[string]any{
		"bid":      formatFloat(q.Bid),
		"ask":      formatFloat(q.Ask),
		"mid":      formatFloat(q.Mid),
		"iv":       formatFloat(q.ImpliedVol),
		"depth":    formatFloat(q.Depth),
		"fallback": strconv.FormatBool(q.Fallback),
		"ts":       strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
}

func parseQuote(contractKey string, vals map[string]string) (domain.PoolQuote, error) {
	c, err := domain.ParseContractKey(contractKey)
	if err != nil {
		return domain.PoolQuote{}, err
	}
	q := domain.PoolQuote{Contract: c}
	floats := []struct {
		field string
		dst   *float64
	}{
		{"bid", &q.Bid}, {"ask", &q.Ask}, {"mid", &q.Mid},
		{"iv", &q.ImpliedVol}, {"depth", &q.Depth},
	}
	for _, f := range floats {
		raw, ok := vals[f.field]
		if !ok {
			return domain.PoolQuote{}, fmt.Errorf("missing field %q", f.field)
		}
		if *f.dst, err = strconv.ParseFloat(raw, 64); err != nil {
			return domain.PoolQuote{}, fmt.Errorf("field %q: %w", f.field, err)
		}
	}
	q.Fallback, _ = strconv.ParseBool(vals["fallback"])
	if ns, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.Timestamp = time.Unix(0, ns).UTC()
	}
	return q, nil
}

// SetQuote stores q under its contract key.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PoolQuote) error {
	key := quoteKey(q.Contract.Key())
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, quoteFields(q))
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Contract.Key(), err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, contractKey string) (domain.PoolQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(contractKey)).Result()
	if err != nil {
		return domain.PoolQuote{}, fmt.Errorf("redis: get quote %s: %w", contractKey, err)
	}
	if len(vals) == 0 {
		return domain.PoolQuote{}, domain.ErrNotFound
	}
	q, err := parseQuote(contractKey, vals)
	if err != nil {
		return domain.PoolQuote{}, fmt.Errorf("redis: parse quote %s: %w", contractKey, err)
	}
	return q, nil
}
