package ratelimiter

import (
	"context"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// SlidingWindowLimiter admits at most rule.Limit requests in any trailing
// window, trading memory for accuracy at window boundaries.
type SlidingWindowLimiter struct {
	impl      *algorithm.SlidingWindow
	keyPrefix string
}

func NewSlidingWindowLimiter(s store.Store, rule Rule, now func() time.Time) (*SlidingWindowLimiter, error) {
	impl, err := algorithm.NewSlidingWindow(s, rule.Limit, rule.Window, now)
	if err != nil {
		return nil, invalidRule(err)
	}
	return &SlidingWindowLimiter{impl: impl, keyPrefix: "sliding_window:"}, nil
}

func (l *SlidingWindowLimiter) Type() Type {
	return SlidingWindowLimiterType
}

func (l *SlidingWindowLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	out, err := l.impl.Take(ctx, l.keyPrefix+req.Key)
	if err != nil {
		return nil, err
	}
	return resultOf(out), nil
}
