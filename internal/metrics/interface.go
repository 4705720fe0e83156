package metrics

import (
	"context"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// SlotTracker defines the interface for tracking slot outcomes.
// This interface allows for easy testing and potential future implementations.
type SlotTracker interface {
	// RecordSlot records one slot tick outcome
	RecordSlot(ctx context.Context, e *domain.SlotEvent)
	// AddRecentPost adds a published reply to the recent posts list
	AddRecentPost(ctx context.Context, post RecentPost) error
	// GetStats returns aggregated counters
	GetStats(ctx context.Context) (*Stats, error)
	// GetRecentPosts returns recently published replies
	GetRecentPosts(ctx context.Context, limit int) ([]RecentPost, error)
}
