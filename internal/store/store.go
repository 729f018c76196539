// Package store defines the counter store the limiters keep their state in
// and a Redis implementation of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable is returned for any backend failure: connection
	// errors, timeouts, script errors or an open circuit breaker.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")
)

// Store is the counter store contract. Every operation is a single round
// trip; multi step read-modify-write sequences go through Eval so they run
// atomically on the server.
type Store interface {
	Increment(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiry(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time to live. A missing key or a key
	// without expiry yields a zero duration.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) error

	Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error)
	Ping(ctx context.Context) error
}

// Script is a server side script executed atomically by the store.
type Script struct {
	src *redis.Script
}

// NewScript wraps a Lua source. Scripts are loaded lazily and cached by sha.
func NewScript(src string) *Script {
	return &Script{src: redis.NewScript(src)}
}

// Hash returns the sha1 of the script source.
func (s *Script) Hash() string {
	return s.src.Hash()
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is a backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
