package ratelimiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Request struct {
	Key string
}

type State uint32

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "Allow"
	}
	return "Deny"
}

// Result is the decision of one limiter for one key.
type Result struct {
	State      State
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration // set on Deny only
}

func (r *Result) Allowed() bool {
	return r != nil && r.State == Allow
}

// Rule is a request budget per window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// Type defines the type of rate limiter.
type Type uint32

const (
	TokenBucketLimiterType Type = iota
	LeakyBucketLimiterType
	FixedWindowLimiterType
	SlidingWindowLimiterType
)

var typeNames = map[Type]string{
	TokenBucketLimiterType:   "token_bucket",
	LeakyBucketLimiterType:   "leaky_bucket",
	FixedWindowLimiterType:   "fixed_window",
	SlidingWindowLimiterType: "sliding_window",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// ParseType maps a configuration value such as "sliding_window" or
// "slidingWindow" to a Type.
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(s)))
	for t, name := range typeNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return t, nil
		}
	}
	return 0, fmt.Errorf("limiter type %q: %w", s, ErrInvalidConfig)
}

// RateLimiter defines the interface for a rate limiter.
type RateLimiter interface {
	Run(ctx context.Context, req *Request) (*Result, error)
	Type() Type
}
