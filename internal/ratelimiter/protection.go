package ratelimiter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

// LockReason says why an account was locked.
type LockReason string

const (
	LockExcessiveFailures  LockReason = "excessive_failed_attempts"
	LockSuspiciousActivity LockReason = "suspicious_activity"
	LockSecurityViolation  LockReason = "security_violation"
	LockManual             LockReason = "manual_lock"
)

var lockDurations = map[LockReason]time.Duration{
	LockExcessiveFailures:  30 * time.Minute,
	LockSuspiciousActivity: time.Hour,
	LockSecurityViolation:  24 * time.Hour,
	LockManual:             7 * 24 * time.Hour,
}

// LockDuration returns how long reason keeps an account locked.
func LockDuration(reason LockReason) time.Duration {
	if d, ok := lockDurations[reason]; ok {
		return d
	}
	return time.Hour
}

const (
	maxAuthFailures = 10
	failureWindow   = time.Hour
	maxFailureDelay = 300 * time.Second
)

// KEYS[1] failure counter; ARGV[1] ttl ms. Arms the expiry on the first failure.
var recordFailureScript = store.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// LockInfo is stored as JSON under the account lock key.
type LockInfo struct {
	Reason    LockReason `json:"reason"`
	LockedAt  time.Time  `json:"lockedAt"`
	ExpiresAt time.Time  `json:"lockedUntil"`
}

// Guard tracks authentication failures and account locks.
type Guard struct {
	store store.Store
	now   func() time.Time
}

func NewGuard(s store.Store, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: s, now: now}
}

func failuresKey(id string) string { return "auth_failures:" + id }

func lockKey(id string) string { return "account_locked:" + id }

// RecordFailure counts a failed authentication for id and locks the account
// once the count reaches the maximum. It returns the failure count.
func (g *Guard) RecordFailure(ctx context.Context, id string) (int64, error) {
	if err := ValidateIdentifier(id); err != nil {
		return 0, err
	}
	reply, err := g.store.Eval(ctx, recordFailureScript, []string{failuresKey(id)}, failureWindow.Milliseconds())
	if err != nil {
		return 0, err
	}
	n, ok := reply.(int64)
	if !ok {
		return 0, fmt.Errorf("record failure: unexpected reply %T: %w", reply, ErrStoreUnavailable)
	}
	if n >= maxAuthFailures {
		if _, err := g.Lock(ctx, id, LockExcessiveFailures); err != nil {
			return n, err
		}
		log.Logger().Warn("account locked",
			zap.String("identifier", id),
			zap.Int64("failures", n),
			zap.String("reason", string(LockExcessiveFailures)))
	}
	return n, nil
}

// Failures returns the current failure count for id.
func (g *Guard) Failures(ctx context.Context, id string) (int64, error) {
	v, err := g.store.Get(ctx, failuresKey(id))
	if store.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failure counter %q: %w", v, ErrStoreUnavailable)
	}
	return n, nil
}

// Delay is the progressive back-off for id: failures squared seconds, capped
// at five minutes.
func (g *Guard) Delay(ctx context.Context, id string) (time.Duration, error) {
	n, err := g.Failures(ctx, id)
	if err != nil {
		return 0, err
	}
	d := time.Duration(n*n) * time.Second
	if n > 300 || d > maxFailureDelay {
		d = maxFailureDelay
	}
	return d, nil
}

func (g *Guard) ClearFailures(ctx context.Context, id string) error {
	return g.store.Delete(ctx, failuresKey(id))
}

// Lock locks id for the duration associated with reason.
func (g *Guard) Lock(ctx context.Context, id string, reason LockReason) (*LockInfo, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}
	d := LockDuration(reason)
	now := g.now()
	info := &LockInfo{Reason: reason, LockedAt: now, ExpiresAt: now.Add(d)}
	b, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	if err := g.store.SetWithExpiry(ctx, lockKey(id), string(b), d); err != nil {
		return nil, err
	}
	return info, nil
}

// IsLocked returns the lock of id, or nil when the account is not locked.
func (g *Guard) IsLocked(ctx context.Context, id string) (*LockInfo, error) {
	v, err := g.store.Get(ctx, lockKey(id))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal([]byte(v), &info); err != nil {
		return nil, fmt.Errorf("lock record for %q: %w", id, err)
	}
	return &info, nil
}

// Unlock removes the lock and the failure history of id.
func (g *Guard) Unlock(ctx context.Context, id string) error {
	return g.store.Delete(ctx, lockKey(id), failuresKey(id))
}
