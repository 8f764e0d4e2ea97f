package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var (
	_ domain.HistoricalStore  = (*SnapshotStore)(nil)
	_ domain.SnapshotRecorder = (*SnapshotStore)(nil)
)

// SnapshotStore records observed market snapshots and serves them back as
// a daily probability series.
type SnapshotStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool, now: time.Now}
}

// RecordSnapshot stores snap. Re-recording the same instant is a no-op.
func (s *SnapshotStore) RecordSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO market_snapshots (market_id, probability, volume, liquidity, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, timestamp) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		snap.MarketID, snap.Probability, snap.Volume, snap.Liquidity, snap.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: record snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetSeries returns the last observation of each UTC day over the past
// days, oldest first.
func (s *SnapshotStore) GetSeries(ctx context.Context, marketID string, days int) ([]domain.HistoricalPoint, error) {
	const query = `
		SELECT probability, timestamp FROM (
			SELECT DISTINCT ON (date_trunc('day', timestamp AT TIME ZONE 'UTC'))
				probability, timestamp
			FROM market_snapshots
			WHERE market_id = $1 AND timestamp >= $2
			ORDER BY date_trunc('day', timestamp AT TIME ZONE 'UTC'), timestamp DESC
		) daily
		ORDER BY timestamp`

	since := s.now().UTC().AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, query, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: get series %s: %w", marketID, err)
	}
	defer rows.Close()

	var points []domain.HistoricalPoint
	for rows.Next() {
		var p domain.HistoricalPoint
		if err := rows.Scan(&p.Probability, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan series point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get series rows: %w", err)
	}
	return points, nil
}
