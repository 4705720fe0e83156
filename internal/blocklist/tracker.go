// Package blocklist keeps recently handled targets out of the candidate feeds.
package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/logger"
)

const scanBatchSize = 100

// Tracker is a Redis-backed target blocklist with TTL. Entries expire on
// their own, so a target becomes eligible again once the window passes.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewTracker creates a blocklist tracker
func NewTracker(client *redis.Client, ttl time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (t *Tracker) key(targetID string) string {
	return fmt.Sprintf("blocked:target:%s", targetID)
}

// Contains reports whether the target is currently blocked. Redis errors are
// logged and treated as not blocked, so feed intake degrades to the durable
// dedup checks instead of stalling.
func (t *Tracker) Contains(ctx context.Context, targetID string) bool {
	exists, err := t.client.Exists(ctx, t.key(targetID)).Result()
	if err != nil {
		t.logger.Error("redis error checking blocklist",
			logger.String("target_id", targetID),
			logger.Error(err),
		)
		return false
	}
	return exists == 1
}

// Add blocks a target for the configured TTL
func (t *Tracker) Add(ctx context.Context, targetID string) error {
	if err := t.client.Set(ctx, t.key(targetID), "1", t.ttl).Err(); err != nil {
		t.logger.Error("redis error adding to blocklist",
			logger.String("target_id", targetID),
			logger.Error(err),
		)
		return err
	}
	t.logger.Debug("target blocked",
		logger.String("target_id", targetID),
		logger.Duration("ttl", t.ttl),
	)
	return nil
}

// Clear unblocks a single target
func (t *Tracker) Clear(ctx context.Context, targetID string) error {
	if err := t.client.Del(ctx, t.key(targetID)).Err(); err != nil {
		t.logger.Error("redis error clearing blocklist entry",
			logger.String("target_id", targetID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// FlushAll removes every blocklist key. Uses SCAN rather than FLUSHDB so
// other keys in the same database survive.
func (t *Tracker) FlushAll(ctx context.Context) error {
	pattern := "blocked:target:*"
	var cursor uint64
	var deletedCount int

	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan blocklist keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, delErr := t.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("delete blocklist keys: %w", delErr)
			}
			deletedCount += int(deleted)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	t.logger.Info("flushed blocklist",
		logger.Int("keys_deleted", deletedCount),
	)
	return nil
}
