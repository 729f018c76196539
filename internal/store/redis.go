package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
)

// ensure that RedisStore satisfies the Store interface
var _ Store = &RedisStore{}

const defaultOpTimeout = 250 * time.Millisecond

// RedisStore implements Store on top of a go-redis client.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	breaker *CircuitBreaker

	// failures are logged at most once per second
	logFailure *rate.Sometimes
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithTimeout bounds every store call. Zero or negative disables the bound
// and leaves only the caller's context deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *RedisStore) { s.timeout = d }
}

// WithCircuitBreaker short-circuits calls while the backend keeps failing.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(s *RedisStore) { s.breaker = cb }
}

// NewRedisStore wraps client. Use redis.NewClient, redis.NewClusterClient or
// redis.NewUniversalClient to build it. The client needs
// ContextTimeoutEnabled for the per call timeout to bound socket reads,
// otherwise go-redis waits for its own ReadTimeout.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:     client,
		timeout:    defaultOpTimeout,
		logFailure: &rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Breaker returns the configured circuit breaker, nil if none.
func (s *RedisStore) Breaker() *CircuitBreaker {
	return s.breaker
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "incr", key, func(ctx context.Context) (err error) {
		n, err = s.client.Incr(ctx, key).Result()
		return err
	})
	return n, err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.do(ctx, "get", key, func(ctx context.Context) (err error) {
		v, err = s.client.Get(ctx, key).Result()
		return err
	})
	return v, err
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.do(ctx, "set", key, func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.do(ctx, "expire", key, func(ctx context.Context) error {
		return s.client.PExpire(ctx, key, ttl).Err()
	})
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := s.do(ctx, "ttl", key, func(ctx context.Context) (err error) {
		d, err = s.client.PTTL(ctx, key).Result()
		return err
	})
	// returns -1 if the key exists but has no associated expire.
	// returns -2 if the key does not exist.
	if d < 0 {
		d = 0
	}
	return d, err
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.do(ctx, "del", keys[0], func(ctx context.Context) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.do(ctx, "zadd", key, func(ctx context.Context) error {
		return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "zcard", key, func(ctx context.Context) (err error) {
		n, err = s.client.ZCard(ctx, key).Result()
		return err
	})
	return n, err
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	return s.do(ctx, "zremrangebyscore", key, func(ctx context.Context) error {
		return s.client.ZRemRangeByScore(ctx, key, min, max).Err()
	})
}

func (s *RedisStore) Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error) {
	var key string
	if len(keys) > 0 {
		key = keys[0]
	}
	var v interface{}
	err := s.do(ctx, "eval", key, func(ctx context.Context) (err error) {
		v, err = script.src.Run(ctx, s.client, keys, args...).Result()
		return err
	})
	return v, err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", "", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// do runs op under the store timeout and the circuit breaker, translating
// backend errors into ErrStoreUnavailable. Calls abandoned by the caller's
// context fail closed without counting against the breaker.
func (s *RedisStore) do(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %q: %v: %w", op, key, err, ErrStoreUnavailable)
	}

	err := s.breaker.Execute(func() error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		err := fn(callCtx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return ErrNotFound
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %w", errCallerGone, err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s %q: %w", op, key, ErrNotFound)
	case rejected(err):
		return fmt.Errorf("%s %q: circuit %s: %w", op, key, s.breaker.State(), ErrStoreUnavailable)
	case errors.Is(err, errCallerGone):
		return fmt.Errorf("%s %q: %v: %w", op, key, err, ErrStoreUnavailable)
	}

	s.logFailure.Do(func() {
		log.Logger().Warn("Counter store call failed",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err))
	})
	return fmt.Errorf("%s %q: %v: %w", op, key, err, ErrStoreUnavailable)
}
