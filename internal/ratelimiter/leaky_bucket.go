package ratelimiter

import (
	"context"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

type LeakyBucketLimiter struct {
	impl      *algorithm.LeakyBucket
	keyPrefix string
}

func (l *LeakyBucketLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	out, err := l.impl.Add(ctx, l.keyPrefix+req.Key)
	if err != nil {
		return nil, err
	}
	return resultOf(out), nil
}

func (l *LeakyBucketLimiter) Type() Type {
	return LeakyBucketLimiterType
}

func NewLeakyBucketLimiter(s store.Store, rule Rule, now func() time.Time) (*LeakyBucketLimiter, error) {
	impl, err := algorithm.NewLeakyBucket(s, rule.Limit, rule.Window, now)
	if err != nil {
		return nil, invalidRule(err)
	}
	return &LeakyBucketLimiter{impl: impl, keyPrefix: "leaky_bucket:"}, nil
}
