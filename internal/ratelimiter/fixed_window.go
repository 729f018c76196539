package ratelimiter

import (
	"context"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// FixedWindowLimiter counts requests per window. Cheap and predictable, but
// lets up to twice the limit through around a window boundary.
type FixedWindowLimiter struct {
	impl      *algorithm.FixedWindow
	keyPrefix string
}

func NewFixedWindowLimiter(s store.Store, rule Rule, now func() time.Time) (*FixedWindowLimiter, error) {
	impl, err := algorithm.NewFixedWindow(s, rule.Limit, rule.Window, now)
	if err != nil {
		return nil, invalidRule(err)
	}
	return &FixedWindowLimiter{impl: impl, keyPrefix: "fixed_window:"}, nil
}

func (l *FixedWindowLimiter) Type() Type {
	return FixedWindowLimiterType
}

func (l *FixedWindowLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	out, err := l.impl.Take(ctx, l.keyPrefix+req.Key)
	if err != nil {
		return nil, err
	}
	return resultOf(out), nil
}

// Peek reads the counter for key without counting a request.
func (l *FixedWindowLimiter) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	return l.impl.Peek(ctx, l.keyPrefix+key)
}
