package algorithm

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// KEYS[1] sorted set; ARGV[1] now ms, ARGV[2] exclusive prune bound,
// ARGV[3] window ms, ARGV[4] limit, ARGV[5] member.
// Returns {allowed, count, oldest score}.
var slidingWindowScript = store.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[2])
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, ARGV[1], ARGV[5])
  redis.call("PEXPIRE", key, window)
  return {1, count + 1, now}
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local score = now
if oldest[2] then
  score = tonumber(oldest[2])
end
return {0, count, score}
`)

// SlidingWindow keeps one sorted set member per accepted request and counts
// the members inside the trailing window. Memory grows with the number of
// requests in a window.
type SlidingWindow struct {
	store  store.Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindow(s store.Store, limit int64, window time.Duration, now func() time.Time) (*SlidingWindow, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{store: s, limit: limit, window: window, now: now}, nil
}

func (s *SlidingWindow) Limit() int64 { return s.limit }

func (s *SlidingWindow) Window() time.Duration { return s.window }

// Take counts one request against key.
func (s *SlidingWindow) Take(ctx context.Context, key string) (Outcome, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	minimum := nowMs - s.window.Milliseconds()

	// timestamps collide under load, the uuid keeps members distinct
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	values, err := s.store.Eval(ctx, slidingWindowScript, []string{key},
		strconv.FormatInt(nowMs, 10),
		"("+strconv.FormatInt(minimum, 10),
		strconv.FormatInt(s.window.Milliseconds(), 10),
		s.limit,
		member,
	)
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
	oldest, err := toInt64(arr[2])
	if err != nil {
		return Outcome{}, err
	}

	if allowed == 1 {
		return Outcome{
			Allowed:   true,
			Limit:     s.limit,
			Remaining: remaining(s.limit, count),
			ResetAt:   ceilMillis(now.Add(s.window)),
		}, nil
	}

	resetAt := time.UnixMilli(oldest).Add(s.window)
	if resetAt.Before(now) {
		resetAt = ceilMillis(now)
	}
	return Outcome{
		Allowed:    false,
		Limit:      s.limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(resetAt.Sub(now)),
	}, nil
}
