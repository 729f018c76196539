package algorithm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow_Take(t *testing.T) {
	var tests = []struct {
		name          string
		runs          int
		limit         int64
		window        time.Duration
		wantAllowed   bool
		wantRemaining int64
	}{
		{
			name:          "returns Allow for request under limit",
			runs:          50,
			limit:         60,
			window:        time.Minute,
			wantAllowed:   true,
			wantRemaining: 10,
		},
		{
			name:          "returns Allow for the request reaching the limit",
			runs:          50,
			limit:         50,
			window:        time.Minute,
			wantAllowed:   true,
			wantRemaining: 0,
		},
		{
			name:          "returns Deny for request over limit",
			runs:          51,
			limit:         50,
			window:        time.Minute,
			wantAllowed:   false,
			wantRemaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			c := newClock()
			fw, err := NewFixedWindow(s, tt.limit, tt.window, c.Now)
			require.NoError(t, err)

			var last Outcome
			for i := 0; i < tt.runs; i++ {
				last, err = fw.Take(context.Background(), "user")
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantAllowed, last.Allowed)
			assert.Equal(t, tt.wantRemaining, last.Remaining)
			assert.Equal(t, tt.limit, last.Limit)
			assert.Equal(t, c.Now().Add(tt.window), last.ResetAt)
		})
	}
}

func TestFixedWindow_ThreeRequestScenario(t *testing.T) {
	s, _ := newTestStore(t)
	fw, err := NewFixedWindow(s, 3, time.Minute, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, want := range []int64{2, 1, 0} {
		out, err := fw.Take(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.Equal(t, want, out.Remaining)
		assert.Zero(t, out.RetryAfter)
	}

	out, err := fw.Take(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Zero(t, out.Remaining)
	assert.Greater(t, out.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, out.RetryAfter, time.Minute)
}

func TestFixedWindow_DenyDoesNotCount(t *testing.T) {
	s, server := newTestStore(t)
	fw, err := NewFixedWindow(s, 2, time.Minute, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fw.Take(ctx, "k")
		require.NoError(t, err)
	}
	v, err := server.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	count, ttl, err := fw.Peek(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, time.Minute, ttl)

	count, ttl, err = fw.Peek(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, ttl)
}

func TestFixedWindow_ExpiresAndStartsAgain(t *testing.T) {
	s, server := newTestStore(t)
	fw, err := NewFixedWindow(s, 5, 15*time.Minute, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out, err := fw.Take(ctx, "auth:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, out.Allowed)
	}

	server.FastForward(time.Minute)
	out, err := fw.Take(ctx, "auth:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, 14*time.Minute, out.RetryAfter)
	assert.LessOrEqual(t, out.RetryAfter, 900*time.Second)

	server.FastForward(14 * time.Minute)
	out, err = fw.Take(ctx, "auth:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(4), out.Remaining)
}

func TestFixedWindow_RearmsLostExpiry(t *testing.T) {
	s, server := newTestStore(t)
	require.NoError(t, server.Set("k", "7"))
	fw, err := NewFixedWindow(s, 10, time.Minute, nil)
	require.NoError(t, err)

	out, err := fw.Take(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(2), out.Remaining)
	assert.Equal(t, time.Minute, server.TTL("k"))
}
