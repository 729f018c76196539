package ratelimiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/audit"
	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
)

// Checker turns a request subject into a decision. The coordinator, the
// adaptive limiter and single limit type checks all implement it, so
// adapters never branch on the kind of limiter behind it.
type Checker interface {
	Check(ctx context.Context, subject Subject) (*Decision, error)
}

// TierResult is the outcome of one evaluated tier.
type TierResult struct {
	Tier   TierName
	Key    string
	Result *Result
}

// Decision is the combined outcome for one request.
type Decision struct {
	Allowed bool
	// LimitExceeded names the tier that denied the request.
	LimitExceeded TierName
	Limit         int64
	Remaining     int64
	ResetAt       time.Time
	RetryAfter    time.Duration
	// Results holds one entry per evaluated tier, in evaluation order.
	Results []TierResult
	// Adaptive is set by the adaptive limiter.
	Adaptive *AdaptiveInfo
}

// Err returns nil for an allowed decision and a *RateLimitError otherwise.
func (d *Decision) Err() error {
	if d == nil || d.Allowed {
		return nil
	}
	return &RateLimitError{
		Tier:       d.LimitExceeded,
		Limit:      d.Limit,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter,
	}
}

func decisionOf(tier TierName, key string, res *Result) *Decision {
	d := &Decision{
		Allowed:    res.Allowed(),
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		ResetAt:    res.ResetAt,
		RetryAfter: res.RetryAfter,
		Results:    []TierResult{{Tier: tier, Key: key, Result: res}},
	}
	if !d.Allowed {
		d.LimitExceeded = tier
	}
	return d
}

// Single applies one limiter to every request of a limit type, keyed per
// subject or, with PerRoute, per subject and route.
type Single struct {
	LimitType string
	Limiter   RateLimiter
	PerRoute  bool
}

func (s *Single) Check(ctx context.Context, subject Subject) (*Decision, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	tier, id := TierPerSubject, subject.Identifier()
	if s.PerRoute && subject.Route != "" {
		tier, id = TierPerSubjectEndpoint, id+":endpoint:"+subject.Route
	}
	key := Key{LimitType: s.LimitType, Tier: tier, Subject: id}.String()
	res, err := s.Limiter.Run(ctx, &Request{Key: key})
	if err != nil {
		return nil, err
	}
	return decisionOf(tier, key, res), nil
}

// Audited records every denial of next to sink. Sink failures are logged and
// never change the decision.
func Audited(next Checker, sink audit.Sink, limitType string) Checker {
	if sink == nil {
		return next
	}
	return &audited{next: next, sink: sink, limitType: limitType, now: time.Now}
}

type audited struct {
	next      Checker
	sink      audit.Sink
	limitType string
	now       func() time.Time
}

func (a *audited) Check(ctx context.Context, subject Subject) (*Decision, error) {
	d, err := a.next.Check(ctx, subject)
	if err != nil || d.Allowed {
		return d, err
	}
	v := audit.Violation{
		Identifier: subject.Identifier(),
		LimitType:  a.limitType,
		Tier:       string(d.LimitExceeded),
		Limit:      d.Limit,
		RetryAfter: d.RetryAfter,
		Timestamp:  a.now(),
	}
	if subject.Route != "" {
		v.Context = map[string]string{"route": subject.Route}
	}
	if err := a.sink.Record(ctx, v); err != nil {
		log.Logger().Warn("failed to record rate limit violation",
			zap.String("identifier", v.Identifier),
			zap.String("limit_type", v.LimitType),
			zap.Error(err))
	}
	return d, nil
}
