package algorithm

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// KEYS[1] hash {level, last_leak}; ARGV[1] capacity, ARGV[2] leak rate per
// second, ARGV[3] now ms, ARGV[4] ttl ms. Returns {allowed, level}.
var leakyBucketScript = store.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "level", "last_leak")
local level = tonumber(data[1]) or 0
local last = tonumber(data[2]) or now

local elapsed = math.max(0, now - last) / 1000
level = math.max(0, level - elapsed * rate)

local allowed = 0
if level + 1 <= capacity then
  allowed = 1
  level = level + 1
end

redis.call("HSET", key, "level", tostring(level), "last_leak", ARGV[3])
redis.call("PEXPIRE", key, ARGV[4])
return {allowed, tostring(level)}
`)

// LeakyBucket admits a request while the bucket has room; the level drains
// at capacity/window per second, smoothing traffic to a steady outflow.
type LeakyBucket struct {
	store    store.Store
	capacity int64
	rate     float64 // leak rate per second
	window   time.Duration
	now      func() time.Time
}

func NewLeakyBucket(s store.Store, capacity int64, window time.Duration, now func() time.Time) (*LeakyBucket, error) {
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &LeakyBucket{
		store:    s,
		capacity: capacity,
		rate:     float64(capacity) / window.Seconds(),
		window:   window,
		now:      now,
	}, nil
}

func (b *LeakyBucket) Capacity() int64 { return b.capacity }

func (b *LeakyBucket) Rate() float64 { return b.rate }

func (b *LeakyBucket) Window() time.Duration { return b.window }

// Add pours one request into the bucket stored at key.
func (b *LeakyBucket) Add(ctx context.Context, key string) (Outcome, error) {
	now := b.now()
	values, err := b.store.Eval(ctx, leakyBucketScript, []string{key},
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
	level, err := toFloat64(arr[1])
	if err != nil {
		return Outcome{}, err
	}

	drain := level / b.rate
	out := Outcome{
		Allowed:   allowed == 1,
		Limit:     b.capacity,
		Remaining: remaining(b.capacity, int64(math.Ceil(level))),
		ResetAt:   ceilMillis(now.Add(time.Duration(drain * float64(time.Second)))),
	}
	if !out.Allowed {
		over := level + 1 - float64(b.capacity)
		out.RetryAfter = retryAfter(time.Duration(over / b.rate * float64(time.Second)))
	}
	return out, nil
}
