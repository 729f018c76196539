package ratelimiter

import (
	"errors"
	"fmt"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

var (
	// ErrUnknownLimitType is a configuration error: the named limit type is
	// not registered.
	ErrUnknownLimitType = errors.New("unknown rate limit type")

	// ErrUnknownTier is returned for tier names outside the fixed priority list.
	ErrUnknownTier = errors.New("unknown rate limit tier")

	// ErrInvalidKey rejects malformed subjects and routes.
	ErrInvalidKey = errors.New("invalid rate limit key")

	// ErrInvalidConfig covers every configuration error. Invalid rules are
	// reported as ErrInvalidConfig wrapping ErrInvalidRule.
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")

	ErrInvalidRule = algorithm.ErrInvalidRule

	ErrStoreUnavailable = store.ErrStoreUnavailable
)

func invalidRule(err error) error {
	if errors.Is(err, ErrInvalidRule) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return err
}

// RateLimitError is the user facing form of a denial. Limiters return denials
// as decisions; adapters turn them into this error at the boundary.
type RateLimitError struct {
	Tier       TierName
	Limit      int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("rate limit exceeded at tier %s, retry after %s", e.Tier, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds is the Retry-After header value, never below 1.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	return retryAfterSeconds(e.RetryAfter)
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
