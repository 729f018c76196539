package algorithm

import (
	"context"
	"strconv"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// KEYS[1] counter, ARGV[1] limit, ARGV[2] window in ms.
// Returns {allowed, count, pttl}. A denied request does not touch the counter.
var fixedWindowScript = store.NewScript(`
local window = tonumber(ARGV[2])
local current = redis.call("GET", KEYS[1])
if not current then
  redis.call("SET", KEYS[1], 1, "PX", window)
  return {1, 1, window}
end
current = tonumber(current)
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], window)
  ttl = window
end
if current >= tonumber(ARGV[1]) then
  return {0, current, ttl}
end
current = redis.call("INCR", KEYS[1])
return {1, current, ttl}
`)

// FixedWindow counts requests in a window that starts with the first request
// for a key and ends when the counter expires. Up to twice the limit can pass
// around a window edge; use SlidingWindow where that matters.
type FixedWindow struct {
	store  store.Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(s store.Store, limit int64, window time.Duration, now func() time.Time) (*FixedWindow, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{store: s, limit: limit, window: window, now: now}, nil
}

func (f *FixedWindow) Limit() int64 { return f.limit }

func (f *FixedWindow) Window() time.Duration { return f.window }

// Take counts one request against key.
func (f *FixedWindow) Take(ctx context.Context, key string) (Outcome, error) {
	now := f.now()
	values, err := f.store.Eval(ctx, fixedWindowScript, []string{key},
		f.limit, strconv.FormatInt(f.window.Milliseconds(), 10))
	if err != nil {
		return Outcome{}, err
	}

	arr, err := parseReply(values, 3)
	if err != nil {
		return Outcome{}, err
	}
	allowed, err := toInt64(arr[0])
	if err != nil {
		return Outcome{}, err
	}
	count, err := toInt64(arr[1])
	if err != nil {
		return Outcome{}, err
	}
	ttlMs, err := toInt64(arr[2])
	if err != nil {
		return Outcome{}, err
	}

	ttl := time.Duration(ttlMs) * time.Millisecond
	out := Outcome{
		Allowed:   allowed == 1,
		Limit:     f.limit,
		Remaining: remaining(f.limit, count),
		ResetAt:   ceilMillis(now.Add(ttl)),
	}
	if !out.Allowed {
		out.RetryAfter = retryAfter(ttl)
	}
	return out, nil
}

// Peek reports the current count and time to reset without counting a
// request. A missing counter reads as zero.
func (f *FixedWindow) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	v, err := f.store.Get(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	count, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	ttl, err := f.store.TTL(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	return count, ttl, nil
}
