package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	all, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "trades", []byte("t1")))
	require.NoError(t, b.Publish(ctx, "book", []byte("b1")))

	assert.Equal(t, []byte("t1"), <-trades)
	assert.Equal(t, []byte("t1"), <-all)
	assert.Equal(t, []byte("b1"), <-all)
	select {
	case msg := <-trades:
		t.Fatalf("unexpected message %s", msg)
	default:
	}
}

func TestBusSubscriptionClosesOnCancel(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "x")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestStreamAppendRead(t *testing.T) {
	b := NewBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "s", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	rest, err := b.StreamRead(ctx, "s", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))

	empty, err := b.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, ok)
}
