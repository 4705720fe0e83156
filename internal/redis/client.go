// Package redis provides the shared Redis client factory.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

const (
	connectionTimeout = 2 * time.Second
)

// NewClient creates a new Redis client with connection testing
func NewClient(cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test Redis connection with timeout
	pingCtx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	log.Info("Redis connection established", logger.String("addr", cfg.URL))
	return redisClient, nil
}

// CheckConnection tests if Redis is reachable
func CheckConnection(client *redis.Client) (bool, error) {
	if client == nil {
		return false, errors.New("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return false, err
	}
	return true, nil
}
