package ratelimiter

import (
	"fmt"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// New builds a limiter of type t. now may be nil to use the wall clock.
func New(t Type, s store.Store, rule Rule, now func() time.Time) (RateLimiter, error) {
	var (
		lim RateLimiter
		err error
	)
	switch t {
	case TokenBucketLimiterType:
		lim, err = NewTokenBucketLimiter(s, rule, now)
	case LeakyBucketLimiterType:
		lim, err = NewLeakyBucketLimiter(s, rule, now)
	case FixedWindowLimiterType:
		lim, err = NewFixedWindowLimiter(s, rule, now)
	case SlidingWindowLimiterType:
		lim, err = NewSlidingWindowLimiter(s, rule, now)
	default:
		return nil, fmt.Errorf("limiter %s: %w", t, ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}
	return lim, nil
}
