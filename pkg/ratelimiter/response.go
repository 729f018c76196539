package ratelimiter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// ResetLayout formats X-RateLimit-Reset: UTC ISO-8601 with milliseconds.
const ResetLayout = "2006-01-02T15:04:05.000Z07:00"

// Error codes in response bodies.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeCheckFailed       = "RATE_LIMIT_CHECK_FAILED"
	CodeInvalidKey        = "INVALID_RATE_LIMIT_KEY"
	CodeAccountLocked     = "ACCOUNT_LOCKED"
)

// ErrorBody is the JSON body of every response the middleware writes itself.
type ErrorBody struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Timestamp  string      `json:"timestamp"`
	Error      ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// SetHeaders writes the rate limit headers of d. Denials also get a
// Retry-After of at least one second.
func SetHeaders(h http.Header, d *ratelimiter.Decision) {
	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(HeaderReset, d.ResetAt.UTC().Format(ResetLayout))
	if err := d.Err(); err != nil {
		var rle *ratelimiter.RateLimitError
		if errors.As(err, &rle) {
			h.Set(HeaderRetryAfter, strconv.FormatInt(rle.RetryAfterSeconds(), 10))
		}
	}
}

// Exceeded builds the 429 body for a denied decision.
func Exceeded(d *ratelimiter.Decision, now time.Time) ErrorBody {
	body := newBody(http.StatusTooManyRequests, "Rate limit exceeded", CodeRateLimitExceeded, now)
	details := map[string]any{}
	var rle *ratelimiter.RateLimitError
	if errors.As(d.Err(), &rle) {
		details["retryAfter"] = rle.RetryAfterSeconds()
		if rle.Tier != "" {
			details["tier"] = string(rle.Tier)
		}
	}
	body.Error.Details = details
	return body
}

// Locked builds the 423 body for a locked account.
func Locked(info *ratelimiter.LockInfo, now time.Time) ErrorBody {
	body := newBody(http.StatusLocked, "Account is temporarily locked", CodeAccountLocked, now)
	body.Error.Details = map[string]any{
		"reason":      string(info.Reason),
		"lockedUntil": info.ExpiresAt.UTC().Format(time.RFC3339),
	}
	return body
}

// Failure maps a limiter error to a status and body. Store failures are 503,
// malformed keys 400. Nothing here ever lets the request through.
func Failure(err error, now time.Time) ErrorBody {
	if errors.Is(err, ratelimiter.ErrInvalidKey) {
		return newBody(http.StatusBadRequest, "Invalid rate limit key", CodeInvalidKey, now)
	}
	return newBody(http.StatusServiceUnavailable, "Rate limiting check failed", CodeCheckFailed, now)
}

func newBody(status int, msg, code string, now time.Time) ErrorBody {
	return ErrorBody{
		Success:    false,
		StatusCode: status,
		Timestamp:  now.UTC().Format(time.RFC3339),
		Error:      ErrorDetail{Message: msg, Code: code},
	}
}
