package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowc1012/adaptive-ratelimiter/internal/audit"
)

type recordingSink struct {
	mu         sync.Mutex
	violations []audit.Violation
	err        error
}

func (r *recordingSink) Record(_ context.Context, v audit.Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
	return r.err
}

func newTestService(t *testing.T, sink audit.Sink) (*Service, *clock) {
	t.Helper()
	s, _ := newTestStore(t)
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	c := newClock()
	return NewService(s, reg, sink, c.Now), c
}

func TestService_Check(t *testing.T) {
	sink := &recordingSink{}
	svc, c := newTestService(t, sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := svc.Check(ctx, "user:alice", LimitAuthentication, FixedWindowLimiterType)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, int64(4-i), d.Remaining)
	}

	d, err := svc.Check(ctx, "user:alice", LimitAuthentication, FixedWindowLimiterType)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.LessOrEqual(t, d.RetryAfter, 15*time.Minute)

	require.Len(t, sink.violations, 1)
	v := sink.violations[0]
	assert.Equal(t, "user:alice", v.Identifier)
	assert.Equal(t, LimitAuthentication, v.LimitType)
	assert.Equal(t, string(TierPerSubject), v.Tier)
	assert.Equal(t, int64(5), v.Limit)
	assert.True(t, v.Timestamp.Equal(c.Now()))

	// other identifiers are unaffected
	d, err = svc.Check(ctx, "user:bob", LimitAuthentication, FixedWindowLimiterType)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestService_CheckErrors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Check(ctx, "user:alice", "unknown", TokenBucketLimiterType)
	assert.ErrorIs(t, err, ErrUnknownLimitType)

	_, err = svc.Check(ctx, "", LimitSearch, TokenBucketLimiterType)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestService_AuditFailureKeepsDecision(t *testing.T) {
	sink := &recordingSink{err: errors.New("mongo down")}
	svc, _ := newTestService(t, sink)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Check(ctx, "ip:9.9.9.9", LimitPasswordReset, SlidingWindowLimiterType)
		require.NoError(t, err)
	}
	d, err := svc.Check(ctx, "ip:9.9.9.9", LimitPasswordReset, SlidingWindowLimiterType)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Len(t, sink.violations, 1)
}

func TestService_Status(t *testing.T) {
	svc, c := newTestService(t, nil)
	ctx := context.Background()

	st, err := svc.Status(ctx, "user:alice", LimitSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Limit)
	assert.Equal(t, time.Hour, st.Window)
	assert.Zero(t, st.Current)
	assert.Equal(t, int64(100), st.Remaining)
	assert.True(t, st.ResetAt.Equal(c.Now().Add(time.Hour)))

	for i := 0; i < 3; i++ {
		_, err := svc.Check(ctx, "user:alice", LimitSearch, FixedWindowLimiterType)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		st, err = svc.Status(ctx, "user:alice", LimitSearch)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.Current)
		assert.Equal(t, int64(97), st.Remaining)
	}

	_, err = svc.Status(ctx, "user:alice", "nope")
	assert.ErrorIs(t, err, ErrUnknownLimitType)
}

func TestService_Checker(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newTestService(t, sink)

	chk, err := svc.Checker(LimitPasswordReset, TokenBucketLimiterType, true)
	require.NoError(t, err)

	sub := Subject{Address: "1.2.3.4", Route: "/api/password/reset"}
	for i := 0; i < 3; i++ {
		d, err := chk.Check(context.Background(), sub)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := chk.Check(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	require.Len(t, sink.violations, 1)
	assert.Equal(t, "ip:1.2.3.4", sink.violations[0].Identifier)
	assert.Equal(t, "/api/password/reset", sink.violations[0].Context["route"])

	_, err = svc.Checker("nope", TokenBucketLimiterType, false)
	assert.ErrorIs(t, err, ErrUnknownLimitType)
}
