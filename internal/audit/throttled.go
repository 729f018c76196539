package audit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttled forwards at most a token bucket's worth of violations to the
// wrapped sink and counts the rest. An abusive client can produce thousands
// of denials a second; the audit trail only needs a sample of them.
type Throttled struct {
	next    Sink
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewThrottled allows perSecond records with bursts of burst.
func NewThrottled(next Sink, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Record(ctx context.Context, v Violation) error {
	if !t.limiter.Allow() {
		t.dropped.Add(1)
		return nil
	}
	return t.next.Record(ctx, v)
}

// Dropped returns how many violations were not forwarded.
func (t *Throttled) Dropped() int64 {
	return t.dropped.Load()
}
