package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"supply-chain-auth/internal/observability"
)

type ManagerConfig struct {
	Token               TokenConfig
	BcryptCost          int
	Policy              FailurePolicy
	RateLimitMaxTracked int
	Cache               CacheConfig
}

// Manager owns the security components for the life of the process. The
// backend (redis or memory) is fixed at construction; recovering a lost
// cache requires a restart.
type Manager struct {
	passwords   *PasswordHasher
	tokens      *TokenManager
	limiter     *Guard
	revocations RevocationStore
	rateLimiter RateLimiter
	policy      FailurePolicy
	cache       redis.UniversalClient
	logger      *observability.Logger
}

// SweepResult reports entries removed from the in-process fallbacks.
type SweepResult struct {
	Backend            string `json:"backend"`
	SweptRateLimitKeys int    `json:"swept_rate_limit_keys"`
	SweptRevocations   int    `json:"swept_revocations"`
}

type sweeper interface {
	Sweep(now time.Time) int
}

// Open connects to the fast cache and builds a Manager around it. When the
// cache is disabled or unreachable the in-process fallbacks are used.
func Open(ctx context.Context, cfg ManagerConfig, logger *observability.Logger) (*Manager, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	var cache redis.UniversalClient
	client, err := ConnectCache(ctx, cfg.Cache, logger)
	switch {
	case err != nil:
		logger.Warn("cache_unavailable_using_memory_fallback", map[string]any{"error": err.Error()})
	case client != nil:
		cache = client
	}

	manager, err := NewManager(cfg, cache, logger)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}

	return manager, nil
}

// NewManager builds a Manager on client, or on the in-process fallbacks
// when client is nil.
func NewManager(cfg ManagerConfig, client redis.UniversalClient, logger *observability.Logger, opts ...TokenOption) (*Manager, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	passwords, err := NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	var (
		revocations RevocationStore
		rateLimiter RateLimiter
	)
	if client != nil {
		revocations = NewRedisRevocationStore(client)
		rateLimiter = NewRedisRateLimiter(client)
	} else {
		revocations = NewMemoryRevocationStore()
		rateLimiter = NewMemoryRateLimiter(cfg.RateLimitMaxTracked)
	}

	tokens, err := NewTokenManager(cfg.Token, revocations, cfg.Policy, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	logger.Info("security_manager_ready", map[string]any{
		"backend":        revocations.Backend(),
		"failure_policy": cfg.Policy.String(),
	})

	return &Manager{
		passwords:   passwords,
		tokens:      tokens,
		limiter:     NewGuard(rateLimiter, cfg.Policy, logger),
		revocations: revocations,
		rateLimiter: rateLimiter,
		policy:      cfg.Policy,
		cache:       client,
		logger:      logger,
	}, nil
}

func (m *Manager) Passwords() *PasswordHasher { return m.passwords }

func (m *Manager) Tokens() *TokenManager { return m.tokens }

func (m *Manager) Limiter() *Guard { return m.limiter }

func (m *Manager) Policy() FailurePolicy { return m.policy }

// Backend is "redis" or "memory".
func (m *Manager) Backend() string {
	return m.revocations.Backend()
}

// CacheReachable pings the cache. It is always false on the memory backend.
func (m *Manager) CacheReachable(ctx context.Context) bool {
	if m.cache == nil {
		return false
	}
	return m.cache.Ping(ctx).Err() == nil
}

// SweepFallback drops stale in-process entries. It is a no-op on redis,
// whose keys expire on their own.
func (m *Manager) SweepFallback(now time.Time) SweepResult {
	result := SweepResult{Backend: m.Backend()}
	if s, ok := m.rateLimiter.(sweeper); ok {
		result.SweptRateLimitKeys = s.Sweep(now)
	}
	if s, ok := m.revocations.(sweeper); ok {
		result.SweptRevocations = s.Sweep(now)
	}
	return result
}

// RunSweeper calls SweepFallback every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if m.cache != nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			result := m.SweepFallback(now)
			if result.SweptRateLimitKeys > 0 || result.SweptRevocations > 0 {
				m.logger.Info("fallback_sweep_completed", map[string]any{
					"swept_rate_limit_keys": result.SweptRateLimitKeys,
					"swept_revocations":     result.SweptRevocations,
				})
			}
		}
	}
}

func (m *Manager) Close() error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Close()
}
