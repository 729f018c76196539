package ratelimiter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// TierName identifies one scope of limiting.
type TierName string

const (
	TierGlobal             TierName = "global"
	TierPerSubject         TierName = "per_subject"
	TierPerEndpoint        TierName = "per_endpoint"
	TierPerSubjectEndpoint TierName = "per_subject_endpoint"
)

// tiers are always evaluated in this order: shared infrastructure first,
// the narrowest scope last.
var tierPriority = map[TierName]int{
	TierGlobal:             0,
	TierPerSubject:         1,
	TierPerEndpoint:        2,
	TierPerSubjectEndpoint: 3,
}

// KeyFunc derives the subject part of a tier's key.
type KeyFunc func(Subject) string

// Tier binds a limiter to a tier. A nil KeyFunc uses the tier's default.
type Tier struct {
	Name    TierName
	Limiter RateLimiter
	KeyFunc KeyFunc
}

func defaultKeyFunc(name TierName) KeyFunc {
	switch name {
	case TierGlobal:
		return func(Subject) string { return "all" }
	case TierPerSubject:
		return Subject.Identifier
	case TierPerEndpoint:
		return func(s Subject) string { return "endpoint:" + s.Route }
	default:
		return func(s Subject) string { return s.Identifier() + ":endpoint:" + s.Route }
	}
}

// DefaultTierRules are the per-tier budgets used by NewDefaultCoordinator.
func DefaultTierRules() map[TierName]Rule {
	return map[TierName]Rule{
		TierGlobal:             {Limit: 10000, Window: time.Minute},
		TierPerSubject:         {Limit: 100, Window: time.Minute},
		TierPerEndpoint:        {Limit: 1000, Window: time.Minute},
		TierPerSubjectEndpoint: {Limit: 10, Window: time.Minute},
	}
}

// Coordinator evaluates several tiers and rejects on the first denial.
type Coordinator struct {
	limitType string
	tiers     []Tier
}

// NewCoordinator orders tiers by priority. Unknown or repeated tier names and
// tiers without a limiter are rejected.
func NewCoordinator(limitType string, tiers ...Tier) (*Coordinator, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("coordinator needs at least one tier: %w", ErrInvalidConfig)
	}
	seen := make(map[TierName]bool, len(tiers))
	ordered := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if _, ok := tierPriority[t.Name]; !ok {
			return nil, fmt.Errorf("tier %q: %w", t.Name, ErrUnknownTier)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tier %q configured twice: %w", t.Name, ErrInvalidConfig)
		}
		if t.Limiter == nil {
			return nil, fmt.Errorf("tier %q has no limiter: %w", t.Name, ErrInvalidConfig)
		}
		seen[t.Name] = true
		if t.KeyFunc == nil {
			t.KeyFunc = defaultKeyFunc(t.Name)
		}
		ordered = append(ordered, t)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return tierPriority[ordered[i].Name] < tierPriority[ordered[j].Name]
	})
	return &Coordinator{limitType: limitType, tiers: ordered}, nil
}

// NewDefaultCoordinator builds one limiter of type t per rule.
func NewDefaultCoordinator(s store.Store, limitType string, t Type, rules map[TierName]Rule, now func() time.Time) (*Coordinator, error) {
	if rules == nil {
		rules = DefaultTierRules()
	}
	tiers := make([]Tier, 0, len(rules))
	for name, rule := range rules {
		lim, err := New(t, s, rule, now)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
		tiers = append(tiers, Tier{Name: name, Limiter: lim})
	}
	return NewCoordinator(limitType, tiers...)
}

// Tiers returns the tier names in evaluation order.
func (c *Coordinator) Tiers() []TierName {
	names := make([]TierName, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name
	}
	return names
}

// Check runs the tiers in priority order. The first denial ends the walk and
// is returned tagged with its tier; unreached tiers are left untouched. A
// store failure is returned as an error, never as an allowed decision.
func (c *Coordinator) Check(ctx context.Context, subject Subject) (*Decision, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}

	d := &Decision{Allowed: true, Results: make([]TierResult, 0, len(c.tiers))}
	var tightest *Result
	for _, t := range c.tiers {
		key := Key{LimitType: c.limitType, Tier: t.Name, Subject: t.KeyFunc(subject)}.String()
		res, err := t.Limiter.Run(ctx, &Request{Key: key})
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.Name, err)
		}
		d.Results = append(d.Results, TierResult{Tier: t.Name, Key: key, Result: res})

		if !res.Allowed() {
			d.Allowed = false
			d.LimitExceeded = t.Name
			d.Limit = res.Limit
			d.Remaining = res.Remaining
			d.ResetAt = res.ResetAt
			d.RetryAfter = res.RetryAfter
			return d, nil
		}
		if tightest == nil || res.Remaining < tightest.Remaining {
			tightest = res
		}
	}

	d.Limit = tightest.Limit
	d.Remaining = tightest.Remaining
	d.ResetAt = tightest.ResetAt
	return d, nil
}
