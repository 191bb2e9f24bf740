// Package cache holds the Redis connection backing the task queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-contracts/internal/config"
	"github.com/diewo77/go-contracts/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis initializes and returns a Redis client instance.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// Close the client if ping fails
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := logger.WithComponent("redis")
	log.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	return rdb, nil
}

// DisconnectRedis closes the Redis client connection.
func DisconnectRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}
