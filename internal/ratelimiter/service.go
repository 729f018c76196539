package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/audit"
	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// Status describes the fixed window counter of an identifier.
type Status struct {
	LimitType string
	Limit     int64
	Window    time.Duration
	Current   int64
	Remaining int64
	ResetAt   time.Time
}

type limiterKey struct {
	limitType string
	t         Type
}

// Service checks named limit types for free form identifiers.
type Service struct {
	store    store.Store
	registry *Registry
	sink     audit.Sink
	now      func() time.Time

	mu       sync.Mutex
	limiters map[limiterKey]RateLimiter
}

// NewService returns a service over registry. sink may be nil.
func NewService(s store.Store, registry *Registry, sink audit.Sink, now func() time.Time) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    s,
		registry: registry,
		sink:     sink,
		now:      now,
		limiters: make(map[limiterKey]RateLimiter),
	}
}

func (s *Service) limiter(limitType string, t Type) (RateLimiter, Rule, error) {
	rule, err := s.registry.Lookup(limitType)
	if err != nil {
		return nil, Rule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := limiterKey{limitType: limitType, t: t}
	if lim, ok := s.limiters[k]; ok {
		return lim, rule, nil
	}
	lim, err := New(t, s.store, rule, s.now)
	if err != nil {
		return nil, Rule{}, err
	}
	s.limiters[k] = lim
	return lim, rule, nil
}

// Check counts one request of identifier against limitType using strategy t.
// Denials are recorded to the audit sink.
func (s *Service) Check(ctx context.Context, identifier, limitType string, t Type) (*Decision, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	lim, _, err := s.limiter(limitType, t)
	if err != nil {
		return nil, err
	}
	key := Key{LimitType: limitType, Tier: TierPerSubject, Subject: identifier}.String()
	res, err := lim.Run(ctx, &Request{Key: key})
	if err != nil {
		return nil, err
	}
	d := decisionOf(TierPerSubject, key, res)
	if !d.Allowed {
		s.record(ctx, audit.Violation{
			Identifier: identifier,
			LimitType:  limitType,
			Tier:       string(d.LimitExceeded),
			Limit:      d.Limit,
			RetryAfter: d.RetryAfter,
			Timestamp:  s.now(),
		})
	}
	return d, nil
}

func (s *Service) record(ctx context.Context, v audit.Violation) {
	if err := s.sink.Record(ctx, v); err != nil {
		log.Logger().Warn("failed to record rate limit violation",
			zap.String("identifier", v.Identifier),
			zap.String("limit_type", v.LimitType),
			zap.Error(err))
	}
}

// Status reports the fixed window counter of identifier without counting a
// request.
func (s *Service) Status(ctx context.Context, identifier, limitType string) (*Status, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	lim, rule, err := s.limiter(limitType, FixedWindowLimiterType)
	if err != nil {
		return nil, err
	}
	key := Key{LimitType: limitType, Tier: TierPerSubject, Subject: identifier}.String()
	count, ttl, err := lim.(*FixedWindowLimiter).Peek(ctx, key)
	if err != nil {
		return nil, err
	}
	st := &Status{
		LimitType: limitType,
		Limit:     rule.Limit,
		Window:    rule.Window,
		Current:   count,
		Remaining: rule.Limit - count,
		ResetAt:   s.now().Add(ttl),
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if count == 0 {
		st.ResetAt = s.now().Add(rule.Window)
	}
	return st, nil
}

// Checker returns a Checker applying limitType with strategy t to request
// subjects, auditing denials.
func (s *Service) Checker(limitType string, t Type, perRoute bool) (Checker, error) {
	lim, _, err := s.limiter(limitType, t)
	if err != nil {
		return nil, fmt.Errorf("checker: %w", err)
	}
	return Audited(&Single{LimitType: limitType, Limiter: lim, PerRoute: perRoute}, s.sink, limitType), nil
}
