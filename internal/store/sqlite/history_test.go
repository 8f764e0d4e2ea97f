package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

func openStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snap(market string, p float64, ts time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{MarketID: market, Probability: p, Timestamp: ts}
}

func TestGetSeriesKeepsLastPointPerDay(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -3)

	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.40, day.Add(1*time.Hour))))
	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.45, day.Add(5*time.Hour))))
	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.50, day.AddDate(0, 0, 1).Add(2*time.Hour))))
	require.NoError(t, s.RecordSnapshot(ctx, snap("other", 0.9, day.Add(2*time.Hour))))

	points, err := s.GetSeries(ctx, "m", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0.45, points[0].Probability)
	assert.Equal(t, 0.50, points[1].Probability)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestGetSeriesRespectsWindow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.2, now.AddDate(0, 0, -40))))
	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.3, now.AddDate(0, 0, -2))))

	points, err := s.GetSeries(ctx, "m", 30)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0.3, points[0].Probability)
}

func TestRecordSkipsUnchangedSameDay(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ts := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.6, ts)))
	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.6, ts.Add(time.Minute))))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM market_snapshots`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.2, now.AddDate(0, 0, -100))))
	require.NoError(t, s.RecordSnapshot(ctx, snap("m", 0.3, now)))

	n, err := s.Prune(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEmptySeries(t *testing.T) {
	s := openStore(t)
	points, err := s.GetSeries(context.Background(), "none", 30)
	require.NoError(t, err)
	assert.Empty(t, points)
}
