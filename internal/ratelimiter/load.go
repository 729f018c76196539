package ratelimiter

import (
	"sync"
	"time"
)

const (
	DefaultLoadWindow   = time.Minute
	DefaultLoadCapacity = 1000
)

// LoadTracker estimates system load from the number of decisions made in a
// trailing window, as a fraction of capacity.
type LoadTracker struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	samples  []time.Time // oldest first
	now      func() time.Time
}

// NewLoadTracker returns a tracker; zero arguments select the defaults.
func NewLoadTracker(window time.Duration, capacity int, now func() time.Time) *LoadTracker {
	if window <= 0 {
		window = DefaultLoadWindow
	}
	if capacity <= 0 {
		capacity = DefaultLoadCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &LoadTracker{window: window, capacity: capacity, now: now}
}

// Record adds one sample at the current time.
func (t *LoadTracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	// Samples past capacity cannot raise the load above 1.
	if len(t.samples) >= t.capacity {
		t.samples = t.samples[1:]
	}
	t.samples = append(t.samples, now)
}

// Load returns min(1, samples in window / capacity).
func (t *LoadTracker) Load() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return float64(len(t.samples)) / float64(t.capacity)
}

func (t *LoadTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && !t.samples[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}
