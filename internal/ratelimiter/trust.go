package ratelimiter

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Behavior is an observed client behaviour that moves its trust score.
type Behavior string

const (
	BehaviorNormalUsage       Behavior = "normal_usage"
	BehaviorRateLimitHit      Behavior = "rate_limit_hit"
	BehaviorSuspiciousPattern Behavior = "suspicious_pattern"
	BehaviorVerifiedHuman     Behavior = "verified_human"
)

var behaviorDelta = map[Behavior]float64{
	BehaviorNormalUsage:       0.01,
	BehaviorRateLimitHit:      -0.05,
	BehaviorSuspiciousPattern: -0.1,
	BehaviorVerifiedHuman:     0.1,
}

// DefaultTrustScore is the score of a subject never seen before.
const DefaultTrustScore = 0.5

// TrustScores keeps a score in [0,1] per subject.
type TrustScores interface {
	Score(id string) float64
	Update(id string, b Behavior) float64
}

const (
	DefaultTrustCapacity = 100_000
	DefaultTrustTTL      = time.Hour
)

// MemoryTrust is an in-process TrustScores. It keeps at most size subjects,
// each forgotten ttl after its last update; forgotten subjects score the
// default again.
type MemoryTrust struct {
	// serializes read-modify-write in Update
	mu     sync.Mutex
	scores *expirable.LRU[string, float64]
}

var _ TrustScores = &MemoryTrust{}

// NewMemoryTrust returns a bounded store; zero arguments select the defaults.
func NewMemoryTrust(size int, ttl time.Duration) *MemoryTrust {
	if size <= 0 {
		size = DefaultTrustCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTrustTTL
	}
	return &MemoryTrust{scores: expirable.NewLRU[string, float64](size, nil, ttl)}
}

func (t *MemoryTrust) Score(id string) float64 {
	if s, ok := t.scores.Get(id); ok {
		return s
	}
	return DefaultTrustScore
}

// Len returns the number of tracked subjects.
func (t *MemoryTrust) Len() int {
	return t.scores.Len()
}

// Update applies b to the score of id and returns the new score. Unknown
// behaviours leave the score unchanged.
func (t *MemoryTrust) Update(id string, b Behavior) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scores.Get(id)
	if !ok {
		s = DefaultTrustScore
	}
	s = clamp(s+behaviorDelta[b], 0, 1)
	t.scores.Add(id, s)
	return s
}

// Set overrides the score of id.
func (t *MemoryTrust) Set(id string, score float64) {
	t.mu.Lock()
	t.scores.Add(id, clamp(score, 0, 1))
	t.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
