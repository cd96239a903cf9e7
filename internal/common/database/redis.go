// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"sgpa-enrollment/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis builds a pooled client for the session store. It does not dial;
// call PingRedis before serving.
func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// PingRedis checks connectivity.
func PingRedis(ctx context.Context, rdb redis.Cmdable) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
