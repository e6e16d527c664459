// Package ratelimit implements the per-account sliding-window admission check
// on top of Redis sorted sets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every failure talking to the shared store.
// A rejection is never reported through this error.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

const keyPrefix = "rate_limit:"

// slidingWindowScript prunes, inserts, counts and (only when admitted)
// refreshes expiry in one atomic round trip.
//
// KEYS[1] window key
// ARGV[1] now (ms)  ARGV[2] window start (ms)  ARGV[3] max requests
// ARGV[4] marker    ARGV[5] ttl (s)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
redis.call('ZADD', key, ARGV[1], ARGV[4])
local count = redis.call('ZCOUNT', key, ARGV[2], ARGV[1])
if count > tonumber(ARGV[3]) then
  return {0, count}
end
redis.call('EXPIRE', key, ARGV[5])
return {1, count}
`)

// Budget is the admission budget applied to one limiter key.
type Budget struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int64 {
	secs := int64(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter is a sliding-window limiter shared by every request handler
// through the Redis connection pool.
type Limiter struct {
	client redis.Scripter
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Limiter. The caller owns the Redis client lifecycle.
func New(client redis.Scripter, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Key builds the limiter key for an account and an optional limit type.
func Key(accountID, limitType string) string {
	if limitType == "" {
		return keyPrefix + accountID
	}
	return keyPrefix + accountID + ":" + limitType
}

// Check records one hit for key and reports whether it fits in the budget.
// The hit is recorded before counting, so concurrent callers can never all
// observe the same pre-insert count.
func (l *Limiter) Check(ctx context.Context, key string, budget Budget) (*Decision, error) {
	if budget.MaxRequests <= 0 || budget.Window < time.Millisecond {
		return nil, fmt.Errorf("invalid budget: max_requests=%d window=%s", budget.MaxRequests, budget.Window)
	}

	now := l.now()
	nowMs := now.UnixMilli()
	startMs := nowMs - budget.Window.Milliseconds()
	ttl := int64(budget.Window / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	res, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		nowMs,
		startMs,
		budget.MaxRequests,
		marker(now),
		ttl,
	).Int64Slice()
	if err != nil {
		l.logger.Error("Rate limit check failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	allowed, count := res[0] == 1, int(res[1])
	decision := &Decision{
		Allowed: allowed,
		Limit:   budget.MaxRequests,
		ResetAt: time.Unix((nowMs+budget.Window.Milliseconds())/1000, 0),
	}
	if allowed {
		decision.Remaining = max(0, budget.MaxRequests-count)
	}

	l.logger.Debug("Rate limit decision",
		slog.String("key", key),
		slog.Bool("allowed", decision.Allowed),
		slog.Int("count", count),
		slog.Int("remaining", decision.Remaining),
	)

	return decision, nil
}

// marker is unique per hit even when two hits share a nanosecond timestamp,
// so ZADD never collapses them.
func marker(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]
}
