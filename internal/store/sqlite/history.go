// Package sqlite is a single-file probability history store for running
// the engine without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
    market_id   TEXT    NOT NULL,
    probability REAL    NOT NULL,
    volume      REAL    NOT NULL DEFAULT 0,
    liquidity   REAL    NOT NULL DEFAULT 0,
    ts_ms       INTEGER NOT NULL,
    day         INTEGER NOT NULL,
    PRIMARY KEY (market_id, ts_ms)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_day ON market_snapshots(market_id, day);
`

const msPerDay = int64(24 * time.Hour / time.Millisecond)

var (
	_ domain.HistoricalStore  = (*HistoryStore)(nil)
	_ domain.SnapshotRecorder = (*HistoryStore)(nil)
)

type lastWrite struct {
	day         int64
	probability float64
}

// HistoryStore records market snapshots and serves a daily series.
type HistoryStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]lastWrite
}

// NewHistoryStore opens (or creates) the database at path and prunes rows
// older than retention. A zero retention keeps everything.
func NewHistoryStore(path string, retention time.Duration) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	s := &HistoryStore{
		db:        db,
		retention: retention,
		now:       time.Now,
		last:      make(map[string]lastWrite),
	}
	if retention > 0 {
		if _, err := s.Prune(context.Background(), s.now().Add(-retention)); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// RecordSnapshot stores snap. An unchanged probability on the same UTC day
// as the previous write is skipped.
func (s *HistoryStore) RecordSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	ts := snap.Timestamp.UTC().UnixMilli()
	day := ts / msPerDay

	s.mu.Lock()
	prev, ok := s.last[snap.MarketID]
	s.mu.Unlock()
	if ok && prev.day == day && prev.probability == snap.Probability {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (market_id, probability, volume, liquidity, ts_ms, day)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_id, ts_ms) DO UPDATE SET probability = excluded.probability`,
		snap.MarketID, snap.Probability, snap.Volume, snap.Liquidity, ts, day,
	); err != nil {
		return fmt.Errorf("sqlite: record snapshot %s: %w", snap.MarketID, err)
	}

	s.mu.Lock()
	s.last[snap.MarketID] = lastWrite{day: day, probability: snap.Probability}
	s.mu.Unlock()
	return nil
}

// GetSeries returns the last observation of each UTC day over the past
// days, oldest first.
func (s *HistoryStore) GetSeries(ctx context.Context, marketID string, days int) ([]domain.HistoricalPoint, error) {
	since := s.now().UTC().AddDate(0, 0, -days).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.probability, m.ts_ms
		FROM market_snapshots m
		JOIN (
			SELECT day, MAX(ts_ms) AS ts_ms
			FROM market_snapshots
			WHERE market_id = ? AND ts_ms >= ?
			GROUP BY day
		) d ON d.ts_ms = m.ts_ms
		WHERE m.market_id = ?
		ORDER BY m.ts_ms`, marketID, since, marketID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get series %s: %w", marketID, err)
	}
	defer rows.Close()

	var points []domain.HistoricalPoint
	for rows.Next() {
		var (
			p  domain.HistoricalPoint
			ms int64
		)
		if err := rows.Scan(&p.Probability, &ms); err != nil {
			return nil, fmt.Errorf("sqlite: scan series point: %w", err)
		}
		p.Timestamp = time.UnixMilli(ms).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get series rows: %w", err)
	}
	return points, nil
}

// Prune deletes snapshots older than cutoff and returns the rows removed.
func (s *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM market_snapshots WHERE ts_ms < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneExpired applies the configured retention. It is a no-op when
// retention is zero.
func (s *HistoryStore) PruneExpired(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	return s.Prune(ctx, s.now().Add(-s.retention))
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
