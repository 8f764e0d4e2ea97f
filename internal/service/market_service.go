package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// MoveSignaler is notified of every fresh probability observation.
type MoveSignaler interface {
	SignalMove(marketID string, probability float64) bool
}

// MarketService fetches upstream snapshots with a bounded timeout and
// falls back to the last known snapshot when the upstream fails.
type MarketService struct {
	provider domain.MarketDataProvider
	recorder domain.SnapshotRecorder
	signaler MoveSignaler
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last map[string]domain.MarketSnapshot
}

// NewMarketService creates a MarketService. recorder and signaler may be nil.
func NewMarketService(
	provider domain.MarketDataProvider,
	recorder domain.SnapshotRecorder,
	signaler MoveSignaler,
	timeout time.Duration,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		provider: provider,
		recorder: recorder,
		signaler: signaler,
		timeout:  timeout,
		logger:   logger,
		last:     make(map[string]domain.MarketSnapshot),
	}
}

// Snapshot returns the current snapshot for marketID. When the upstream
// fails, the last known snapshot is returned instead; the error is only
// surfaced when no snapshot was ever observed.
func (s *MarketService) Snapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	snap, err := s.fetch(ctx, marketID)
	if err == nil {
		s.Observe(ctx, snap)
		return snap, nil
	}

	if last, ok := s.LastKnown(marketID); ok {
		s.logger.WarnContext(ctx, "market_service: using last known snapshot",
			slog.String("market_id", marketID),
			slog.Time("as_of", last.Timestamp),
			slog.String("error", err.Error()),
		)
		return last, nil
	}
	return domain.MarketSnapshot{}, fmt.Errorf("market_service: snapshot %q: %w: %w", marketID, domain.ErrStaleOrMissingMarketData, err)
}

func (s *MarketService) fetch(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	if s.provider == nil {
		return domain.MarketSnapshot{}, errors.New("no market data provider")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	snap, err := s.provider.GetSnapshot(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.MarketID == "" {
		snap.MarketID = marketID
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if !snap.Valid() {
		return domain.MarketSnapshot{}, fmt.Errorf("invalid snapshot probability %v", snap.Probability)
	}
	return snap, nil
}

// Observe records a fresh snapshot as last known, persists it to the
// history recorder, and signals the volatility estimator.
func (s *MarketService) Observe(ctx context.Context, snap domain.MarketSnapshot) {
	s.mu.Lock()
	s.last[snap.MarketID] = snap
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.RecordSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "market_service: record snapshot failed",
				slog.String("market_id", snap.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.signaler != nil && s.signaler.SignalMove(snap.MarketID, snap.Probability) {
		s.logger.InfoContext(ctx, "market_service: significant move, volatility invalidated",
			slog.String("market_id", snap.MarketID),
			slog.Float64("probability", snap.Probability),
		)
	}
}

// LastKnown returns the most recent snapshot seen for marketID.
func (s *MarketService) LastKnown(marketID string) (domain.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.last[marketID]
	return snap, ok
}

// Snapshots fetches several markets concurrently. Markets with no data at
// all are omitted and reported in the joined error.
func (s *MarketService) Snapshots(ctx context.Context, marketIDs []string) (map[string]domain.MarketSnapshot, error) {
	var (
		mu   sync.Mutex
		out  = make(map[string]domain.MarketSnapshot, len(marketIDs))
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range marketIDs {
		g.Go(func() error {
			snap, err := s.Snapshot(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			out[id] = snap
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// RunRefresher refreshes marketIDs every interval until ctx is cancelled.
func (s *MarketService) RunRefresher(ctx context.Context, marketIDs []string, interval time.Duration) error {
	if len(marketIDs) == 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snaps, err := s.Snapshots(ctx, marketIDs)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: refresh incomplete",
				slog.Int("ok", len(snaps)),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
