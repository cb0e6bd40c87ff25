package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"supply-chain-auth/internal/observability"
)

const (
	rateLimitKeyPrefix     = "rate_limit:"
	defaultMaxTrackedKeys  = 10000
	minimumRateLimitWindow = time.Second
)

// RateLimiter counts requests per identifier in a strict sliding window:
// timestamps older than window are discarded, and a request is recorded
// only when fewer than limit remain.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)
	// Count reports the hits still inside window without recording one.
	Count(ctx context.Context, identifier string, window time.Duration) (int, error)
	Backend() string
}

// KEYS[1] rate key; ARGV: now ms, cutoff ms, limit, member, window ms.
const slidingWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

type RedisRateLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, now: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	window = normalizeWindow(window)

	now := l.now()
	nowMs := now.UnixMilli()
	cutoffMs := now.Add(-window).UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	result, err := slidingWindowLua.Run(ctx, l.client, []string{rateLimitKeyPrefix + identifier},
		nowMs, cutoffMs, limit, member, window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return result == 1, nil
}

func (l *RedisRateLimiter) Count(ctx context.Context, identifier string, window time.Duration) (int, error) {
	window = normalizeWindow(window)
	cutoffMs := l.now().Add(-window).UnixMilli()

	n, err := l.client.ZCount(ctx, rateLimitKeyPrefix+identifier, "("+strconv.FormatInt(cutoffMs, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return int(n), nil
}

func (l *RedisRateLimiter) Backend() string {
	return BackendRedis
}

// MemoryRateLimiter is the in-process fallback. Identifiers whose newest
// hit is older than the largest window seen are dropped by Sweep, and an
// inline sweep runs when more than maxTracked identifiers are held.
type MemoryRateLimiter struct {
	mu         sync.Mutex
	hits       map[string][]time.Time
	maxWindow  time.Duration
	maxTracked int
	now        func() time.Time
}

func NewMemoryRateLimiter(maxTracked int) *MemoryRateLimiter {
	return newMemoryRateLimiter(maxTracked, time.Now)
}

func newMemoryRateLimiter(maxTracked int, now func() time.Time) *MemoryRateLimiter {
	if maxTracked <= 0 {
		maxTracked = defaultMaxTrackedKeys
	}

	return &MemoryRateLimiter{
		hits:       make(map[string][]time.Time),
		maxTracked: maxTracked,
		now:        now,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	window = normalizeWindow(window)

	now := l.now()
	threshold := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if window > l.maxWindow {
		l.maxWindow = window
	}

	hits := l.hits[identifier]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= limit {
		l.hits[identifier] = filtered
		return false, nil
	}

	l.hits[identifier] = append(filtered, now)

	if len(l.hits) > l.maxTracked {
		l.sweepLocked(now)
	}

	return true, nil
}

func (l *MemoryRateLimiter) Count(_ context.Context, identifier string, window time.Duration) (int, error) {
	threshold := l.now().Add(-normalizeWindow(window))

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, hit := range l.hits[identifier] {
		if hit.After(threshold) {
			count++
		}
	}

	return count, nil
}

func (l *MemoryRateLimiter) Backend() string {
	return BackendMemory
}

// Sweep drops identifiers with no hit newer than the largest window and
// returns how many were removed.
func (l *MemoryRateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *MemoryRateLimiter) sweepLocked(now time.Time) int {
	threshold := now.Add(-l.maxWindow)

	removed := 0
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(threshold) {
			delete(l.hits, key)
			removed++
		}
	}

	return removed
}

func (l *MemoryRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

func normalizeWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return minimumRateLimitWindow
	}
	return window
}

// Guard applies the FailurePolicy to a RateLimiter so callers get a plain
// allow/deny answer.
type Guard struct {
	limiter RateLimiter
	policy  FailurePolicy
	logger  *observability.Logger
}

func NewGuard(limiter RateLimiter, policy FailurePolicy, logger *observability.Logger) *Guard {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Guard{limiter: limiter, policy: policy, logger: logger}
}

func (g *Guard) Allow(ctx context.Context, identifier string, limit int, window time.Duration) bool {
	allowed, err := g.limiter.Allow(ctx, identifier, limit, window)
	if err != nil {
		g.logger.SecurityEvent("security_backend_error", map[string]any{
			"component":  "rate_limiter",
			"identifier": identifier,
			"policy":     g.policy.String(),
			"error":      err.Error(),
		})
		return g.policy == FailOpen
	}

	return allowed
}

// Exceeded reports whether identifier already holds limit hits inside
// window. Nothing is recorded. On backend errors fail-open answers false.
func (g *Guard) Exceeded(ctx context.Context, identifier string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	count, err := g.limiter.Count(ctx, identifier, window)
	if err != nil {
		g.logger.SecurityEvent("security_backend_error", map[string]any{
			"component":  "rate_limiter",
			"operation":  "count",
			"identifier": identifier,
			"policy":     g.policy.String(),
			"error":      err.Error(),
		})
		return g.policy == FailClosed
	}

	return count >= limit
}

func (g *Guard) Backend() string {
	return g.limiter.Backend()
}
