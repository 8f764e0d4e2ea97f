package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/cache/memory"
	"github.com/alanyoungcy/polyoptions/internal/config"
	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	onRun   func()
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, before)
	f.mu.Unlock()
	return 3, nil
}

func (f *fakeArchiver) ArchiveOrders(context.Context, time.Time) (int64, error) {
	if f.onRun != nil {
		f.onRun()
	}
	return 1, nil
}

func (f *fakeArchiver) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeLocks struct {
	held     bool
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() { l.released++ }, nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Archive.RetentionDays = 30
	cfg.Archive.Interval.Duration = time.Hour
	return New(&cfg, discard)
}

func TestArchiveLoopRunsUnderLock(t *testing.T) {
	a := testApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arch := &fakeArchiver{onRun: cancel}
	locks := &fakeLocks{}

	err := a.runArchiveLoop(ctx, &Dependencies{Archiver: arch, LockManager: locks})
	require.NoError(t, err)
	require.Equal(t, 1, arch.runs())
	assert.Equal(t, 1, locks.released)

	want := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, want, arch.cutoffs[0], time.Minute)
}

func TestArchiveLoopSkipsWhenLockHeld(t *testing.T) {
	a := testApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	arch := &fakeArchiver{}
	err := a.runArchiveLoop(ctx, &Dependencies{Archiver: arch, LockManager: &fakeLocks{held: true}})
	require.NoError(t, err)
	assert.Zero(t, arch.runs())
}

func TestWireLocalMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "local"
	cfg.History.Backend = "sqlite"
	cfg.History.SQLitePath = ":memory:"

	deps, cleanup, err := Wire(context.Background(), &cfg, discard)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Bus{}, deps.SignalBus)
	assert.IsType(t, &memory.RateLimiter{}, deps.RateLimiter)
	assert.NotNil(t, deps.History)
	assert.NotNil(t, deps.Recorder)
	assert.NotNil(t, deps.HistoryPruner)
	assert.Nil(t, deps.TradeStore)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)
}

func TestWireRejectsPostgresHistoryInLocalMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "local"
	cfg.History.Backend = "postgres"

	_, _, err := Wire(context.Background(), &cfg, discard)
	assert.Error(t, err)
}
