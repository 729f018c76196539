package store

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       server.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...), server
}

func TestRedisStore_Counters(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Increment(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Increment(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := s.TTL(ctx, "hits")
	require.NoError(t, err)
	assert.Zero(t, ttl, "key without expiry reports zero ttl")

	require.NoError(t, s.Expire(ctx, "hits", time.Minute))
	ttl, err = s.TTL(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	require.NoError(t, s.SetWithExpiry(ctx, "lock", "payload", 10*time.Second))
	v, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	server.FastForward(11 * time.Second)
	_, err = s.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "hits"))
	assert.False(t, server.Exists("hits"))
	require.NoError(t, s.Delete(ctx))
}

func TestRedisStore_SortedSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.ZAdd(ctx, "window", float64(i*10), member))
	}
	n, err := s.ZCard(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// exclusive upper bound keeps the member scored exactly 20
	require.NoError(t, s.ZRemRangeByScore(ctx, "window", "-inf", "(20"))
	n, err = s.ZCard(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisStore_Eval(t *testing.T) {
	s, _ := newTestStore(t)
	script := NewScript(`
redis.call("SET", KEYS[1], ARGV[1])
return redis.call("INCRBY", KEYS[1], ARGV[2])
`)
	v, err := s.Eval(context.Background(), script, []string{"k"}, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.NotEmpty(t, script.Hash())
}

func TestRedisStore_UnavailableBackend(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitOptions{FailureThreshold: 2, OpenDuration: time.Minute})
	s, server := newTestStore(t, WithTimeout(100*time.Millisecond), WithCircuitBreaker(breaker))
	ctx := context.Background()
	server.Close()

	_, err := s.Increment(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, CircuitClosed, breaker.State())

	err = s.Ping(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, CircuitOpen, s.Breaker().State())

	// rejected by the breaker without touching the network
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestRedisStore_ScriptErrorIsUnavailable(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Eval(context.Background(), NewScript(`return redis.call("NOPE")`), []string{"k"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

// stalledAddr accepts connections and never answers.
func stalledAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func newStalledStore(t *testing.T, opts ...Option) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:                  stalledAddr(t),
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...)
}

func TestRedisStore_TimeoutFailsClosed(t *testing.T) {
	s := newStalledStore(t, WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := s.Increment(context.Background(), "k")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestRedisStore_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitOptions{FailureThreshold: 2, OpenDuration: time.Minute})
	s := newStalledStore(t, WithTimeout(5*time.Second), WithCircuitBreaker(breaker))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := s.Increment(ctx, "k")
		cancel()
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, CircuitClosed, breaker.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, CircuitClosed, breaker.State())

	// the store's own timeout still counts against the backend
	slow := newStalledStore(t, WithTimeout(50*time.Millisecond), WithCircuitBreaker(breaker))
	for i := 0; i < 2; i++ {
		_, err := slow.Increment(context.Background(), "k")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, CircuitOpen, breaker.State())
}
