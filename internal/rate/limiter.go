package rate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard/internal/secure"
)

const (
	windowPrefix  = "rl:"
	failurePrefix = "rlf:"
	lockPrefix    = "rll:"

	// failureMemory is how long a failure streak is remembered without new
	// failures.
	failureMemory = time.Hour
	// gcSlack keeps lock keys around slightly past their deadline.
	gcSlack = time.Second
)

// windowScript atomically advances a window counter.
//
// KEYS[1] window hash
// ARGV[1] now (unix ms), ARGV[2] window (ms), ARGV[3] max
// returns {allowed(0|1), count, start}
const windowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local start = tonumber(redis.call("HGET", KEYS[1], "start") or "-1")
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")

if start < 0 or now >= start + window then
  start = now
  count = 0
end

local allowed = 0
if count < max then
  count = count + 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "start", start, "count", count)
redis.call("PEXPIRE", KEYS[1], (start + window - now) + 1000)
return {allowed, count, start}
`

var windowLua = redis.NewScript(windowScript)

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// WaitTime is zero when Allowed; otherwise how long until a retry can
	// succeed.
	WaitTime time.Duration
}

// Policy names one limit applied to a subject (user id, email, IP).
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Config holds limiter tuning parameters.
type Config struct {
	// LocalCacheSize bounds the denied-key fast path. Zero disables it.
	LocalCacheSize int
	// PenaltyBase is the first backoff step after a failure.
	PenaltyBase time.Duration
}

// Limiter enforces sliding request windows and graduated failure penalties
// with counters held in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	clock  secure.Clock
	rand   io.Reader
	denied cache.Cache
}

type deniedEntry struct {
	resetAt time.Time
	max     int
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config, clock secure.Clock, rnd io.Reader) (*Limiter, error) {
	l := &Limiter{
		redis:  redisClient,
		config: cfg,
		clock:  secure.ClockOrSystem(clock),
		rand:   secure.ReaderOrDefault(rnd),
	}
	if cfg.LocalCacheSize > 0 {
		c, err := cache.NewCache(cache.MaxKeys(cfg.LocalCacheSize), cache.LRU())
		if err != nil {
			return nil, err
		}
		l.denied = c
	}
	return l, nil
}

func failureKey(policy, subject string) string {
	return failurePrefix + policy + ":" + subject
}

func lockKey(policy, subject string) string {
	return lockPrefix + policy + ":" + subject
}

// Check counts one request for key against max per window and reports
// whether it is allowed.
//
//	Performance: 1 EVALSHA, or 0 Redis commands on a local-cache hit.
func (l *Limiter) Check(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{}, ErrInvalidPolicy
	}
	now := l.clock.Now()

	if d, ok := l.cachedDenial(key, max, now); ok {
		return d, nil
	}

	res, err := windowLua.Run(ctx, l.redis, []string{windowPrefix + key},
		now.UnixMilli(), window.Milliseconds(), max).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	count := int(res[1])
	resetAt := time.UnixMilli(res[2]).Add(window)
	d := Decision{
		Allowed:   res[0] == 1,
		Remaining: max - count,
		ResetAt:   resetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.WaitTime = resetAt.Sub(now)
		l.rememberDenial(key, max, resetAt, now)
	}
	return d, nil
}

// CheckPolicy applies p to subject. Active penalty locks deny before the
// window is consulted, so locked callers do not consume window budget.
func (l *Limiter) CheckPolicy(ctx context.Context, p Policy, subject string) (Decision, error) {
	locked, until, err := l.lockedUntil(ctx, p.Name, subject)
	if err != nil {
		return Decision{}, err
	}
	if locked {
		return Decision{Allowed: false, ResetAt: until, WaitTime: until.Sub(l.clock.Now())}, nil
	}
	return l.Check(ctx, p.Name+":"+subject, p.Max, p.Window)
}

// Backoff returns the jittered exponential delay for attempt.
func (l *Limiter) Backoff(attempt int, base time.Duration) time.Duration {
	return secure.Backoff(attempt, base, l.rand)
}

// Penalize records a failure for subject under p and locks it out for the
// backoff delay of the resulting streak. It returns the lock duration.
func (l *Limiter) Penalize(ctx context.Context, p Policy, subject string) (time.Duration, error) {
	fk := failureKey(p.Name, subject)
	failures, err := l.redis.Incr(ctx, fk).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := l.redis.Expire(ctx, fk, failureMemory).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// The first failure is free; backoff starts with the second.
	if failures < 2 || l.config.PenaltyBase <= 0 {
		return 0, nil
	}

	delay := l.Backoff(int(failures-1), l.config.PenaltyBase)
	if delay <= 0 {
		return 0, nil
	}
	until := l.clock.Now().Add(delay)
	if err := l.redis.Set(ctx, lockKey(p.Name, subject), until.UnixMilli(), delay+gcSlack).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return delay, nil
}

// Forgive clears the failure streak and any lock for subject, typically after
// a successful authentication.
func (l *Limiter) Forgive(ctx context.Context, p Policy, subject string) error {
	if err := l.redis.Del(ctx, failureKey(p.Name, subject), lockKey(p.Name, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current failure streak for subject. Missing keys
// return zero.
func (l *Limiter) Failures(ctx context.Context, p Policy, subject string) (int, error) {
	v, err := l.redis.Get(ctx, failureKey(p.Name, subject)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

func (l *Limiter) lockedUntil(ctx context.Context, policy, subject string) (bool, time.Time, error) {
	v, err := l.redis.Get(ctx, lockKey(policy, subject)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	until := time.UnixMilli(v)
	if !l.clock.Now().Before(until) {
		return false, time.Time{}, nil
	}
	return true, until, nil
}

func (l *Limiter) cachedDenial(key string, max int, now time.Time) (Decision, bool) {
	if l.denied == nil {
		return Decision{}, false
	}
	v, ok := l.denied.Get(key)
	if !ok {
		return Decision{}, false
	}
	entry, ok := v.(deniedEntry)
	if !ok || entry.max != max || !now.Before(entry.resetAt) {
		l.denied.Invalidate(key)
		return Decision{}, false
	}
	return Decision{
		Allowed:  false,
		ResetAt:  entry.resetAt,
		WaitTime: entry.resetAt.Sub(now),
	}, true
}

func (l *Limiter) rememberDenial(key string, max int, resetAt, now time.Time) {
	if l.denied == nil {
		return
	}
	ttl := resetAt.Sub(now)
	if ttl <= 0 {
		return
	}
	l.denied.Set(key, deniedEntry{resetAt: resetAt, max: max}, ttl)
}
