package algorithm

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// KEYS[1] hash {tokens, last_refill}; ARGV[1] capacity, ARGV[2] refill rate
// per second, ARGV[3] now ms, ARGV[4] ttl ms.
// Returns {allowed, tokens left}. Tokens travel as a string to keep the
// fraction, numbers in script replies are truncated to integers.
var tokenBucketScript = store.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

local elapsed = math.max(0, now - last) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", ARGV[3])
redis.call("PEXPIRE", key, ARGV[4])
return {allowed, tostring(tokens)}
`)

// TokenBucket refills capacity/window tokens per second and spends one per
// request. After an idle period a full burst of capacity requests passes.
type TokenBucket struct {
	store    store.Store
	capacity int64
	rate     float64 // refill rate per second
	window   time.Duration
	now      func() time.Time
}

// NewTokenBucket creates a bucket holding capacity tokens that refills
// completely over window.
func NewTokenBucket(s store.Store, capacity int64, window time.Duration, now func() time.Time) (*TokenBucket, error) {
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		store:    s,
		capacity: capacity,
		rate:     float64(capacity) / window.Seconds(),
		window:   window,
		now:      now,
	}, nil
}

func (b *TokenBucket) Capacity() int64 { return b.capacity }

// Rate returns the refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 { return b.rate }

func (b *TokenBucket) Window() time.Duration { return b.window }

// Take removes one token from the bucket stored at key.
func (b *TokenBucket) Take(ctx context.Context, key string) (Outcome, error) {
	now := b.now()
	values, err := b.store.Eval(ctx, tokenBucketScript, []string{key},
		b.capacity,
		formatFloat(b.rate),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(b.window.Milliseconds(), 10),
	)
	if err != nil {
		return Outcome{}, err
	}

	arr, err := parseReply(values, 2)
	if err != nil {
		return Outcome{}, err
	}
	allowed, err := toInt64(arr[0])
	if err != nil {
		return Outcome{}, err
	}
	tokens, err := toFloat64(arr[1])
	if err != nil {
		return Outcome{}, err
	}
	if tokens < 0 {
		tokens = 0
	}

	refill := (float64(b.capacity) - tokens) / b.rate
	out := Outcome{
		Allowed:   allowed == 1,
		Limit:     b.capacity,
		Remaining: int64(math.Floor(tokens)),
		ResetAt:   ceilMillis(now.Add(time.Duration(refill * float64(time.Second)))),
	}
	if !out.Allowed {
		out.RetryAfter = retryAfter(time.Duration((1 - tokens) / b.rate * float64(time.Second)))
	}
	return out, nil
}
