package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultStatsWindowHours = 24

// listSlotEvents returns the most recent slot events
func (r *Router) listSlotEvents(c *gin.Context) {
	events, err := r.slots.ListRecent(c.Request.Context(), parseLimit(c))
	if err != nil {
		handleRepositoryError(c, err, "slot events", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// getSlotStats returns slot outcome aggregates over a trailing window
func (r *Router) getSlotStats(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", strconv.Itoa(defaultStatsWindowHours)))
	if err != nil || hours <= 0 {
		hours = defaultStatsWindowHours
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := r.slots.StatsSince(c.Request.Context(), since)
	if err != nil {
		handleRepositoryError(c, err, "slot stats", "get")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window_hours": hours,
		"stats":        stats,
	})
}

// getQueueStats returns candidate queue statistics
func (r *Router) getQueueStats(c *gin.Context) {
	stats, err := r.queue.Stats(c.Request.Context())
	if err != nil {
		handleRepositoryError(c, err, "queue stats", "get")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getOverview aggregates decision, queue, slot and budget state in one call
// for the dashboard
func (r *Router) getOverview(c *gin.Context) {
	ctx := c.Request.Context()

	decisionStats, err := r.decisions.Stats(ctx)
	if err != nil {
		handleRepositoryError(c, err, "decision stats", "get")
		return
	}

	queueStats, err := r.queue.Stats(ctx)
	if err != nil {
		handleRepositoryError(c, err, "queue stats", "get")
		return
	}

	slotStats, err := r.slots.StatsSince(ctx, time.Now().Add(-defaultStatsWindowHours*time.Hour))
	if err != nil {
		handleRepositoryError(c, err, "slot stats", "get")
		return
	}

	budgetRemaining, err := r.budget.Remaining(ctx)
	if err != nil {
		handleRepositoryError(c, err, "budget", "get")
		return
	}

	overview := gin.H{
		"decisions":              decisionStats,
		"queue":                  queueStats,
		"slots":                  slotStats,
		"budget_remaining_cents": budgetRemaining,
	}

	// Redis counters are advisory; skip them if the tracker is unavailable
	if counters, statsErr := r.slotMetrics.GetStats(ctx); statsErr == nil {
		overview["counters"] = counters
	}

	c.JSON(http.StatusOK, overview)
}

// getRecentPosts returns recently published replies
func (r *Router) getRecentPosts(c *gin.Context) {
	posts, err := r.slotMetrics.GetRecentPosts(c.Request.Context(), parseLimit(c))
	if err != nil {
		handleRepositoryError(c, err, "recent posts", "get")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts": posts,
		"count": len(posts),
	})
}
