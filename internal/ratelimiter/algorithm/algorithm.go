// Package algorithm holds the limiter algorithms. Each one keeps its state in
// a store.Store and performs its read-modify-write as a single server side
// script, so concurrent requests for the same key never lose updates.
package algorithm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidRule is returned when a limit or window is not positive.
var ErrInvalidRule = errors.New("invalid rate limit rule")

// Outcome is the raw result of one algorithm step.
type Outcome struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

func validate(limit int64, window time.Duration) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d: %w", limit, ErrInvalidRule)
	}
	if window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms, got %s: %w", window, ErrInvalidRule)
	}
	return nil
}

// retryAfter rounds up to whole seconds, the granularity of the Retry-After
// header, and never returns less than a second.
func retryAfter(d time.Duration) time.Duration {
	secs := time.Duration(math.Ceil(d.Seconds())) * time.Second
	if secs < time.Second {
		return time.Second
	}
	return secs
}

// ceilMillis rounds t up to the millisecond, the precision reset times are
// published with.
func ceilMillis(t time.Time) time.Time {
	r := t.Truncate(time.Millisecond)
	if r.Before(t) {
		r = r.Add(time.Millisecond)
	}
	return r
}

func remaining(limit, used int64) int64 {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

func parseReply(values interface{}, n int) ([]interface{}, error) {
	arr, ok := values.([]interface{})
	if !ok || len(arr) < n {
		return nil, fmt.Errorf("unexpected script reply: %v", values)
	}
	return arr, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
