package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(rdb, WithClock(clock.Now)), mr, clock
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rate_limit:acc-1", Key("acc-1", ""))
	assert.Equal(t, "rate_limit:acc-1:submit", Key("acc-1", "submit"))
}

func TestLimiter_AdmitsUpToBudget(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 5, Window: time.Minute}
	key := Key("acc-fresh", "submit")

	previous := budget.MaxRequests
	for i := 0; i < budget.MaxRequests; i++ {
		d, err := limiter.Check(ctx, key, budget)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be admitted", i+1)
		assert.Less(t, d.Remaining, previous, "remaining must strictly decrease")
		assert.Equal(t, 5, d.Limit)
		previous = d.Remaining
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, 0, previous)

	d, err := limiter.Check(ctx, key, budget)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestLimiter_HundredThenReject(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 100, Window: 60 * time.Second}

	// Same clock reading for every call: markers must still stay distinct.
	for i := 0; i < 100; i++ {
		d, err := limiter.Check(ctx, Key("A", ""), budget)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d should be admitted", i+1)
	}

	d, err := limiter.Check(ctx, Key("A", ""), budget)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestLimiter_WindowResets(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 2, Window: 10 * time.Second}
	key := Key("acc-reset", "")

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, key, budget)
		require.NoError(t, err)
	}

	clock.Advance(10*time.Second + time.Millisecond)

	d, err := limiter.Check(ctx, key, budget)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_ResetAt(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	budget := Budget{MaxRequests: 1, Window: time.Minute}

	d, err := limiter.Check(context.Background(), Key("acc", ""), budget)
	require.NoError(t, err)

	assert.Equal(t, clock.Now().Add(time.Minute).Unix(), d.ResetAt.Unix())
	assert.Equal(t, int64(60), d.RetryAfter(clock.Now()))
	assert.Equal(t, int64(1), d.RetryAfter(clock.Now().Add(2*time.Minute)))
}

func TestLimiter_ExpiryRefreshedOnlyWhenAdmitted(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 1, Window: time.Minute}
	key := Key("acc-ttl", "")

	d, err := limiter.Check(ctx, key, budget)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.SetTTL(key, 5*time.Second)

	d, err = limiter.Check(ctx, key, budget)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, 5*time.Second, mr.TTL(key), "rejected call must not extend expiry")
}

func TestLimiter_AccountsAreIsolated(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 1, Window: time.Minute}

	d, err := limiter.Check(ctx, Key("acc-a", ""), budget)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Check(ctx, Key("acc-b", ""), budget)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_ConcurrentCallersNeverOverAdmit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	budget := Budget{MaxRequests: 20, Window: time.Minute}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Check(ctx, Key("acc-race", ""), budget)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), admitted.Load())
}

func TestLimiter_StoreFailureIsNotARejection(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	mr.Close()

	d, err := limiter.Check(context.Background(), Key("acc", ""), Budget{MaxRequests: 1, Window: time.Minute})
	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestLimiter_InvalidBudget(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)

	_, err := limiter.Check(context.Background(), Key("acc", ""), Budget{MaxRequests: 0, Window: time.Minute})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, mr.Exists(Key("acc", "")))
}
