package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"supply-chain-auth/internal/observability"
)

// CacheConfig holds the fast cache connection settings.
type CacheConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ConnectCache dials Redis and pings it once. A nil client with a nil
// error means the cache is disabled.
func ConnectCache(ctx context.Context, cfg CacheConfig, logger *observability.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		logger.Info("cache_disabled", nil)
		return nil, nil
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis at %s: %v", ErrBackendUnavailable, cfg.Addr, err)
	}

	logger.Info("cache_connected", map[string]any{"addr": cfg.Addr, "db": cfg.DB})
	return client, nil
}
