// Package metrics tracks slot outcome counters and recent posts in Redis for
// the ops API.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// missReasons is the closed set of reasons GetStats reads back
var missReasons = []string{
	domain.MissReasonQueueEmpty,
	domain.MissReasonRateLimit,
	domain.MissReasonBudget,
	domain.MissReasonMinSpacing,
	domain.MissReasonGeneration,
	domain.MissReasonPermit,
	domain.MissReasonPublish,
}

// Tracker implements SlotTracker using Redis. It is advisory: the durable
// slot_events table is the source of truth, these counters just make the ops
// endpoints cheap.
type Tracker struct {
	client redis.UniversalClient
	keys   *RedisKeys
	logger logger.Logger
}

// NewTracker creates a new slot tracker
func NewTracker(client redis.UniversalClient, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		keys:   NewRedisKeys(KeyPrefixMetrics),
		logger: log,
	}
}

// RecordSlot records one slot tick outcome. Failures are logged and dropped;
// metrics must never fail the pipeline.
func (t *Tracker) RecordSlot(ctx context.Context, e *domain.SlotEvent) {
	key := t.keys.Posted()
	if !e.Posted {
		reason := "unknown"
		if e.MissReason != nil {
			reason = *e.MissReason
		}
		key = t.keys.Missed(reason)
	}

	ttl := MetricsTTLDays * HoursPerDay * time.Hour

	pipe := t.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	pipe.Set(ctx, KeyLastTick, e.SlotTime.Format(time.RFC3339), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("failed to record slot outcome",
			logger.String("redis_key", key),
			logger.Error(err),
		)
	}
}

// AddRecentPost adds a published reply to the recent posts list
func (t *Tracker) AddRecentPost(ctx context.Context, post RecentPost) error {
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal recent post: %w", err)
	}

	ttl := RecentPostsTTLDays * HoursPerDay * time.Hour

	pipe := t.client.Pipeline()
	pipe.LPush(ctx, KeyRecentPosts, data)
	pipe.LTrim(ctx, KeyRecentPosts, 0, MaxRecentPosts-1)
	pipe.Expire(ctx, KeyRecentPosts, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("failed to add recent post",
			logger.String("published_id", post.PublishedID),
			logger.Error(err),
		)
		return fmt.Errorf("add recent post: %w", err)
	}
	return nil
}

// GetStats returns the aggregated counters using one pipelined read
func (t *Tracker) GetStats(ctx context.Context) (*Stats, error) {
	pipe := t.client.Pipeline()

	postedCmd := pipe.Get(ctx, t.keys.Posted())
	missCmds := make(map[string]*redis.StringCmd, len(missReasons))
	for _, reason := range missReasons {
		missCmds[reason] = pipe.Get(ctx, t.keys.Missed(reason))
	}
	lastTickCmd := pipe.Get(ctx, KeyLastTick)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("execute pipeline: %w", err)
	}

	stats := &Stats{ByReason: make(map[string]int64, len(missReasons))}

	if posted, err := postedCmd.Int64(); err == nil {
		stats.Posted = posted
	}
	for _, reason := range missReasons {
		if count, err := missCmds[reason].Int64(); err == nil && count > 0 {
			stats.ByReason[reason] = count
			stats.Missed += count
		}
	}
	if lastTickStr, err := lastTickCmd.Result(); err == nil && lastTickStr != "" {
		if lastTick, parseErr := time.Parse(time.RFC3339, lastTickStr); parseErr == nil {
			stats.LastTick = lastTick
		}
	}
	return stats, nil
}

// GetRecentPosts returns recently published replies, newest first
func (t *Tracker) GetRecentPosts(ctx context.Context, limit int) ([]RecentPost, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxRecentPosts {
		limit = MaxRecentPosts
	}

	results, err := t.client.LRange(ctx, KeyRecentPosts, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []RecentPost{}, nil
		}
		return nil, fmt.Errorf("get recent posts: %w", err)
	}

	posts := make([]RecentPost, 0, len(results))
	for _, result := range results {
		var post RecentPost
		if unmarshalErr := json.Unmarshal([]byte(result), &post); unmarshalErr != nil {
			t.logger.Warn("failed to unmarshal recent post", logger.Error(unmarshalErr))
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}
