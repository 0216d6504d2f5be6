// internal/db/redis.go
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the fallback storage and analytics stream backend.
type RedisConfig struct {
	ClusterMode bool
	Addresses   []string
	Password    string
	DB          int
	PoolSize    int
}

// Enabled reports whether any Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

// NewRedisClient connects to the configured node, or to the cluster when
// ClusterMode is set, and pings it before returning.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if cfg.ClusterMode {
			return nil, fmt.Errorf("failed to connect to Redis cluster: %w", err)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func newRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no Redis address provided")
	}
	if cfg.ClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addresses,
			Password: cfg.Password,
			PoolSize: cfg.PoolSize,
		}), nil
	}
	// Single node; only the first address is used.
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), nil
}
