package polymarket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var fastOpts = Options{Timeout: time.Second, RequestsPerSecond: 1000, Burst: 10, MaxRetries: 2}

const marketJSON = `{
	"id": "123",
	"question": "Will it rain?",
	"active": "true",
	"outcomePrices": "[\"0.66\",\"0.34\"]",
	"volume": "15000.5",
	"liquidity": 250000,
	"clobTokenIds": "[\"tok-yes\",\"tok-no\"]",
	"updatedAt": "2026-01-02T03:04:05Z"
}`

func TestGetSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/123", r.URL.Path)
		_, _ = io.WriteString(w, marketJSON)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, fastOpts, discard)
	snap, err := g.GetSnapshot(context.Background(), "123")
	require.NoError(t, err)

	assert.Equal(t, "123", snap.MarketID)
	assert.InDelta(t, 0.66, snap.Probability, 1e-12)
	assert.InDelta(t, 15000.5, snap.Volume, 1e-9)
	assert.InDelta(t, 250000, snap.Liquidity, 1e-9)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), snap.Timestamp)
	assert.True(t, snap.Valid())
}

func TestGetSnapshotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL, fastOpts, discard).GetSnapshot(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSnapshotRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, marketJSON)
	}))
	defer srv.Close()

	snap, err := NewGammaClient(srv.URL, fastOpts, discard).GetSnapshot(context.Background(), "123")
	require.NoError(t, err)
	assert.InDelta(t, 0.66, snap.Probability, 1e-12)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetSnapshotMissingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"123","outcomePrices":""}`)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL, fastOpts, discard).GetSnapshot(context.Background(), "123")
	assert.ErrorIs(t, err, domain.ErrStaleOrMissingMarketData)
}

func TestGetSeries(t *testing.T) {
	var historyCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/123":
			_, _ = io.WriteString(w, marketJSON)
		case "/prices-history":
			historyCalls.Add(1)
			assert.Equal(t, "tok-yes", r.URL.Query().Get("market"))
			assert.Equal(t, "1440", r.URL.Query().Get("fidelity"))
			_, _ = io.WriteString(w, `{"history":[{"t":1767312000,"p":0.6},{"t":1767225600,"p":0.5}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gamma := NewGammaClient(srv.URL, fastOpts, discard)
	clob := NewClobClient(srv.URL, gamma, fastOpts, discard)

	points, err := clob.GetSeries(context.Background(), "123", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 0.5, points[0].Probability, 1e-12)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))

	_, err = clob.GetSeries(context.Background(), "123", 30)
	require.NoError(t, err)
	assert.Equal(t, int32(2), historyCalls.Load())
}

func TestRequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	opts := fastOpts
	opts.MaxRetries = 10
	_, err := NewGammaClient(srv.URL, opts, discard).GetSnapshot(ctx, "123")
	assert.Error(t, err)
}
