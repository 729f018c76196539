package ratelimiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter/algorithm"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

const (
	DefaultAdaptiveBaseLimit     = 100
	DefaultAdaptiveWindow        = time.Minute
	DefaultAdaptiveLoadThreshold = 0.8

	adaptiveLimitType = "adaptive"
)

// DefaultEndpointMultipliers scales the budget of known routes.
func DefaultEndpointMultipliers() map[string]float64 {
	return map[string]float64{
		"/api/auth/login": 0.1,
		"/api/search":     0.5,
		"/api/users":      1.0,
		"/api/health":     10.0,
	}
}

// AdaptiveOptions configure an AdaptiveLimiter. Zero values select defaults.
type AdaptiveOptions struct {
	BaseLimit           int64
	Window              time.Duration
	LoadThreshold       float64
	EndpointMultipliers map[string]float64
	Trust               TrustScores
	Load                *LoadTracker
	Now                 func() time.Time
}

// AdaptiveInfo explains how the effective limit of a decision was derived.
type AdaptiveInfo struct {
	BaseLimit      int64
	EffectiveLimit int64
	LoadFactor     float64
	TrustFactor    float64
	EndpointFactor float64
}

// AdaptiveLimiter scales a base limit by system load, subject trust and
// endpoint cost, then enforces it with a token bucket per subject and route.
type AdaptiveLimiter struct {
	store     store.Store
	base      int64
	window    time.Duration
	threshold float64
	endpoints map[string]float64
	trust     TrustScores
	load      *LoadTracker
	now       func() time.Time
}

var _ Checker = &AdaptiveLimiter{}

func NewAdaptiveLimiter(s store.Store, opts AdaptiveOptions) (*AdaptiveLimiter, error) {
	if opts.BaseLimit == 0 {
		opts.BaseLimit = DefaultAdaptiveBaseLimit
	}
	if opts.Window == 0 {
		opts.Window = DefaultAdaptiveWindow
	}
	if opts.LoadThreshold == 0 {
		opts.LoadThreshold = DefaultAdaptiveLoadThreshold
	}
	if opts.BaseLimit < 0 || opts.Window < 0 || opts.LoadThreshold < 0 || opts.LoadThreshold >= 1 {
		return nil, fmt.Errorf("adaptive limiter: base limit, window and load threshold out of range: %w", ErrInvalidConfig)
	}
	if opts.EndpointMultipliers == nil {
		opts.EndpointMultipliers = DefaultEndpointMultipliers()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Trust == nil {
		opts.Trust = NewMemoryTrust(0, 0)
	}
	if opts.Load == nil {
		opts.Load = NewLoadTracker(0, 0, opts.Now)
	}
	return &AdaptiveLimiter{
		store:     s,
		base:      opts.BaseLimit,
		window:    opts.Window,
		threshold: opts.LoadThreshold,
		endpoints: opts.EndpointMultipliers,
		trust:     opts.Trust,
		load:      opts.Load,
		now:       opts.Now,
	}, nil
}

// loadFactorSpan is the load above the threshold over which the factor
// falls from 1 to its floor.
const loadFactorSpan = 0.2

// LoadFactor maps the current load to [0.1, 1]: 1 up to the threshold, then
// max(0.1, 1 - (load - threshold)/0.2).
func (a *AdaptiveLimiter) LoadFactor() float64 {
	load := a.load.Load()
	if load <= a.threshold {
		return 1
	}
	return clamp(1-(load-a.threshold)/loadFactorSpan, 0.1, 1)
}

// TrustFactor maps a trust score to 0.5, 1 or 1.5.
func TrustFactor(score float64) float64 {
	switch {
	case score > 0.8:
		return 1.5
	case score < 0.3:
		return 0.5
	default:
		return 1
	}
}

// EndpointFactor returns the multiplier for route, 1 when unknown.
func (a *AdaptiveLimiter) EndpointFactor(route string) float64 {
	if m, ok := a.endpoints[route]; ok && m > 0 {
		return m
	}
	return 1
}

// EffectiveLimit computes the limit that applies to subject right now.
func (a *AdaptiveLimiter) EffectiveLimit(subject Subject) AdaptiveInfo {
	info := AdaptiveInfo{
		BaseLimit:      a.base,
		LoadFactor:     a.LoadFactor(),
		TrustFactor:    TrustFactor(a.trust.Score(subject.Identifier())),
		EndpointFactor: a.EndpointFactor(subject.Route),
	}
	info.EffectiveLimit = int64(math.Floor(float64(a.base) * info.LoadFactor * info.TrustFactor * info.EndpointFactor))
	if info.EffectiveLimit < 1 {
		info.EffectiveLimit = 1
	}
	return info
}

// Check enforces the effective limit. Bucket state persists in the store
// across decisions, only the capacity is recomputed each time.
func (a *AdaptiveLimiter) Check(ctx context.Context, subject Subject) (*Decision, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	info := a.EffectiveLimit(subject)

	bucket, err := algorithm.NewTokenBucket(a.store, info.EffectiveLimit, a.window, a.now)
	if err != nil {
		return nil, invalidRule(err)
	}
	id := subject.Identifier()
	key := Key{
		LimitType: adaptiveLimitType,
		Tier:      TierPerSubjectEndpoint,
		Subject:   id + ":" + subject.Route,
	}.String()
	out, err := bucket.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("adaptive: %w", err)
	}

	a.load.Record()
	d := decisionOf(TierPerSubjectEndpoint, key, resultOf(out))
	d.Adaptive = &info
	if d.Allowed {
		a.trust.Update(id, BehaviorNormalUsage)
	} else {
		a.trust.Update(id, BehaviorRateLimitHit)
	}
	return d, nil
}
