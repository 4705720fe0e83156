package metrics

import "fmt"

const (
	// KeyPrefixMetrics is the prefix for all metrics keys
	KeyPrefixMetrics = "metrics"
	// KeyPrefixSlotsPosted is the key suffix for the posted slots counter
	KeyPrefixSlotsPosted = "slots:posted"
	// KeyPrefixSlotsMissed is the key suffix prefix for per-reason miss counters
	KeyPrefixSlotsMissed = "slots:missed"
	// KeyRecentPosts is the Redis key for the recent posts list
	KeyRecentPosts = "metrics:recent:posts"
	// KeyLastTick is the Redis key for the last slot tick timestamp
	KeyLastTick = "metrics:last_tick"
	// MaxRecentPosts is the maximum number of recent posts to keep
	MaxRecentPosts = 100
	// MetricsTTLDays is the TTL in days for counters
	MetricsTTLDays = 30
	// RecentPostsTTLDays is the TTL in days for the recent posts list
	RecentPostsTTLDays = 7
	// HoursPerDay converts day-based TTLs to hours
	HoursPerDay = 24
)

// RedisKeys provides methods to build Redis keys consistently
type RedisKeys struct {
	prefix string
}

// NewRedisKeys creates a new RedisKeys instance
func NewRedisKeys(prefix string) *RedisKeys {
	return &RedisKeys{prefix: prefix}
}

// Posted returns the Redis key for the posted slots counter
func (k *RedisKeys) Posted() string {
	return fmt.Sprintf("%s:%s", k.prefix, KeyPrefixSlotsPosted)
}

// Missed returns the Redis key for the miss counter of one reason
func (k *RedisKeys) Missed(reason string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixSlotsMissed, reason)
}
