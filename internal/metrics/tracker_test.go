package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
)

func newTestTracker(t *testing.T) *metrics.Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return metrics.NewTracker(client, logger.NewNopLogger())
}

func TestRecordSlotCounts(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	slotTime := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tracker.RecordSlot(ctx, domain.NewSlotPost(slotTime, uuid.New()))
	tracker.RecordSlot(ctx, domain.NewSlotMiss(slotTime, domain.MissReasonQueueEmpty))
	tracker.RecordSlot(ctx, domain.NewSlotMiss(slotTime, domain.MissReasonQueueEmpty))
	tracker.RecordSlot(ctx, domain.NewSlotMiss(slotTime, domain.MissReasonBudget))

	stats, err := tracker.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Posted != 1 {
		t.Errorf("Posted = %d, want 1", stats.Posted)
	}
	if stats.Missed != 3 {
		t.Errorf("Missed = %d, want 3", stats.Missed)
	}
	if stats.ByReason[domain.MissReasonQueueEmpty] != 2 {
		t.Errorf("queue_empty = %d, want 2", stats.ByReason[domain.MissReasonQueueEmpty])
	}
	if stats.ByReason[domain.MissReasonBudget] != 1 {
		t.Errorf("budget = %d, want 1", stats.ByReason[domain.MissReasonBudget])
	}
	if !stats.LastTick.Equal(slotTime) {
		t.Errorf("LastTick = %v, want %v", stats.LastTick, slotTime)
	}
}

func TestGetStatsEmpty(t *testing.T) {
	tracker := newTestTracker(t)

	stats, err := tracker.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Posted != 0 || stats.Missed != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
}

func TestRecentPosts(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		err := tracker.AddRecentPost(ctx, metrics.RecentPost{
			PublishedID: id,
			TargetID:    "t-" + id,
			PostedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AddRecentPost(%s) error = %v", id, err)
		}
	}

	posts, err := tracker.GetRecentPosts(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentPosts() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("len(posts) = %d, want 2", len(posts))
	}
	// Newest first
	if posts[0].PublishedID != "p3" || posts[1].PublishedID != "p2" {
		t.Errorf("posts = %+v, want p3 then p2", posts)
	}
}

func TestGetRecentPostsEmpty(t *testing.T) {
	tracker := newTestTracker(t)

	posts, err := tracker.GetRecentPosts(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecentPosts() error = %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("len(posts) = %d, want 0", len(posts))
	}
}
