// Package volatility estimates annualised volatility of a market's
// probability from its recent history.
package volatility

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// Config holds the estimator parameters.
type Config struct {
	LookbackDays      int
	MinVolatility     float64
	DefaultVolatility float64
	CacheTTL          time.Duration
	SignificantMove   float64
	FetchTimeout      time.Duration
	// RetryAfter is how long a fallback is served after a failed fetch.
	RetryAfter time.Duration
}

// DefaultConfig returns the standard estimator parameters.
func DefaultConfig() Config {
	return Config{
		LookbackDays:      30,
		MinVolatility:     0.25,
		DefaultVolatility: 0.50,
		CacheTTL:          time.Hour,
		SignificantMove:   0.02,
		FetchTimeout:      5 * time.Second,
		RetryAfter:        30 * time.Second,
	}
}

type entry struct {
	base       float64
	validUntil time.Time
	// reference is the probability the estimate was computed at.
	reference float64
	hasRef    bool
}

// Estimator computes and caches base volatility per market.
type Estimator struct {
	history domain.HistoricalStore
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cache  map[string]entry
	flight singleflight.Group
}

// NewEstimator creates an Estimator reading from history.
func NewEstimator(history domain.HistoricalStore, cfg Config, logger *slog.Logger) *Estimator {
	return &Estimator{
		history: history,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "volatility")),
		now:     time.Now,
		cache:   make(map[string]entry),
	}
}

// Estimate returns the annualised volatility for marketID adjusted for a
// horizon of the given length in years. It never fails: when history is
// unavailable the last cached value or the default is used.
func (e *Estimator) Estimate(ctx context.Context, marketID string, horizonYears float64) float64 {
	return e.Base(ctx, marketID) * TermMultiplier(horizonYears)
}

// Base returns the unadjusted annualised volatility for marketID.
// Concurrent misses for one market share a single history fetch. After a
// failed fetch the fallback is cached for RetryAfter.
func (e *Estimator) Base(ctx context.Context, marketID string) float64 {
	if base, ok := e.lookup(marketID); ok {
		return base
	}
	v, _, _ := e.flight.Do(marketID, func() (any, error) {
		if base, ok := e.lookup(marketID); ok {
			return base, nil
		}
		return e.refresh(ctx, marketID), nil
	})
	return v.(float64)
}

func (e *Estimator) lookup(marketID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cached, ok := e.cache[marketID]
	if !ok || !e.now().Before(cached.validUntil) {
		return 0, false
	}
	return cached.base, true
}

func (e *Estimator) refresh(ctx context.Context, marketID string) float64 {
	now := e.now()
	points, err := e.fetch(ctx, marketID)
	if err != nil {
		e.logger.WarnContext(ctx, "volatility: history unavailable",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		e.mu.Lock()
		defer e.mu.Unlock()
		stale, ok := e.cache[marketID]
		if !ok {
			stale = entry{base: e.cfg.DefaultVolatility}
		}
		stale.validUntil = now.Add(e.cfg.RetryAfter)
		e.cache[marketID] = stale
		return stale.base
	}

	base, last, usable := e.compute(points)
	if !usable {
		base = e.cfg.DefaultVolatility
	}

	e.mu.Lock()
	e.cache[marketID] = entry{
		base:       base,
		validUntil: now.Add(e.cfg.CacheTTL),
		reference:  last,
		hasRef:     usable,
	}
	e.mu.Unlock()
	return base
}

func (e *Estimator) fetch(ctx context.Context, marketID string) ([]domain.HistoricalPoint, error) {
	if e.history == nil {
		return nil, fmt.Errorf("volatility: no history store configured")
	}
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}
	points, err := e.history.GetSeries(ctx, marketID, e.cfg.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("volatility: get series %q: %w", marketID, err)
	}
	return points, nil
}

// compute returns the floored annualised volatility and the latest usable
// probability. usable is false when fewer than two points lie strictly
// inside (0,1).
func (e *Estimator) compute(points []domain.HistoricalPoint) (vol, last float64, usable bool) {
	clean := make([]domain.HistoricalPoint, 0, len(points))
	for _, p := range points {
		if p.Probability > 0 && p.Probability < 1 {
			clean = append(clean, p)
		}
	}
	if len(clean) < 2 {
		return 0, 0, false
	}
	sort.SliceStable(clean, func(i, j int) bool { return clean[i].Timestamp.Before(clean[j].Timestamp) })

	returns := make([]float64, 0, len(clean)-1)
	for i := 1; i < len(clean); i++ {
		returns = append(returns, math.Log(clean[i].Probability/clean[i-1].Probability))
	}

	vol = stdDev(returns) * math.Sqrt(domain.DaysPerYear)
	if math.IsNaN(vol) || vol < e.cfg.MinVolatility {
		vol = e.cfg.MinVolatility
	}
	return vol, clean[len(clean)-1].Probability, true
}

// SignalMove reports a new probability observation. When it differs from
// the probability the cached estimate was computed at by at least the
// significant-move threshold, the cache entry is dropped and true returned.
func (e *Estimator) SignalMove(marketID string, probability float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cached, ok := e.cache[marketID]
	if !ok {
		return false
	}
	if !cached.hasRef {
		cached.reference = probability
		cached.hasRef = true
		e.cache[marketID] = cached
		return false
	}
	if math.Abs(probability-cached.reference) >= e.cfg.SignificantMove {
		delete(e.cache, marketID)
		return true
	}
	return false
}

// Invalidate drops the cached estimate for marketID.
func (e *Estimator) Invalidate(marketID string) {
	e.mu.Lock()
	delete(e.cache, marketID)
	e.mu.Unlock()
}

// TermMultiplier scales base volatility by horizon: linearly from 1.5 at
// zero days to 1.0 at seven days, 1.0 up to thirty days, 0.9 beyond.
func TermMultiplier(horizonYears float64) float64 {
	days := horizonYears * domain.DaysPerYear
	switch {
	case days < 0:
		return 1.5
	case days < 7:
		return 1 + 0.5*(7-days)/7
	case days > 30:
		return 0.9
	default:
		return 1
	}
}

func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
