package ratelimiter

import (
	"context"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// TokenBucketLimiter is a popular approach that regulates the flow of requests using a token bucket.
// Each request consumes a token from the bucket, and once the bucket is empty, no more requests are
// allowed until the bucket is refilled. It is the only strategy that lets a full burst through after
// an idle period.
type TokenBucketLimiter struct {
	impl      *algorithm.TokenBucket
	keyPrefix string
}

// NewTokenBucketLimiter creates a bucket of rule.Limit tokens refilling over rule.Window.
func NewTokenBucketLimiter(s store.Store, rule Rule, now func() time.Time) (*TokenBucketLimiter, error) {
	impl, err := algorithm.NewTokenBucket(s, rule.Limit, rule.Window, now)
	if err != nil {
		return nil, invalidRule(err)
	}
	return &TokenBucketLimiter{impl: impl, keyPrefix: "token_bucket:"}, nil
}

func (l *TokenBucketLimiter) Type() Type {
	return TokenBucketLimiterType
}

func (l *TokenBucketLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	out, err := l.impl.Take(ctx, l.keyPrefix+req.Key)
	if err != nil {
		return nil, err
	}
	return resultOf(out), nil
}

func resultOf(out algorithm.Outcome) *Result {
	res := &Result{
		State:      Deny,
		Limit:      out.Limit,
		Remaining:  out.Remaining,
		ResetAt:    out.ResetAt,
		RetryAfter: out.RetryAfter,
	}
	if out.Allowed {
		res.State = Allow
		res.RetryAfter = 0
	}
	return res
}
