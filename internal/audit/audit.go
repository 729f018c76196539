// Package audit records rate limit violations. Recording is best effort:
// callers log sink errors and never let them change a decision.
package audit

import (
	"context"
	"errors"
	"time"
)

// Violation describes one denied request.
type Violation struct {
	Identifier string            `bson:"identifier" json:"identifier"`
	LimitType  string            `bson:"limit_type" json:"limitType"`
	Tier       string            `bson:"tier,omitempty" json:"tier,omitempty"`
	Limit      int64             `bson:"limit" json:"limit"`
	RetryAfter time.Duration     `bson:"retry_after_ms" json:"retryAfterMs"`
	Timestamp  time.Time         `bson:"timestamp" json:"timestamp"`
	Context    map[string]string `bson:"context,omitempty" json:"context,omitempty"`
}

// Sink persists violations.
type Sink interface {
	Record(ctx context.Context, v Violation) error
}

// Nop discards every violation.
type Nop struct{}

func (Nop) Record(context.Context, Violation) error { return nil }

// Multi fans a violation out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, v Violation) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
