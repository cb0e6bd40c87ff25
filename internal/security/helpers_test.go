package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return mr, rdb
}

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackendDown = errors.New("connection refused")

// brokenRevocationStore fails every call.
type brokenRevocationStore struct{}

func (brokenRevocationStore) Add(context.Context, string, time.Duration) error {
	return errBackendDown
}

func (brokenRevocationStore) Contains(context.Context, string) (bool, error) {
	return false, errBackendDown
}

func (brokenRevocationStore) Backend() string { return "broken" }

// brokenRateLimiter fails every call.
type brokenRateLimiter struct{}

func (brokenRateLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errBackendDown
}

func (brokenRateLimiter) Count(context.Context, string, time.Duration) (int, error) {
	return 0, errBackendDown
}

func (brokenRateLimiter) Backend() string { return "broken" }
