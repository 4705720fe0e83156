package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
	"github.com/jonesrussell/reply-agent/internal/telemetry"
)

// decisionReader loads the posted decision behind a slot event
type decisionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Decision, error)
}

// slotTracker fans slot observations out to the Redis counters and the
// Prometheus registry, and records posted decisions in the recent-posts list.
// It never fails the tick: every sink is best effort.
type slotTracker struct {
	metrics   *metrics.Tracker
	telemetry *telemetry.Telemetry
	decisions decisionReader
	logger    logger.Logger
}

func newSlotTracker(m *metrics.Tracker, t *telemetry.Telemetry, decisions decisionReader, log logger.Logger) *slotTracker {
	return &slotTracker{
		metrics:   m,
		telemetry: t,
		decisions: decisions,
		logger:    log,
	}
}

// RecordSlot forwards the slot event to all sinks
func (s *slotTracker) RecordSlot(ctx context.Context, e *domain.SlotEvent) {
	s.metrics.RecordSlot(ctx, e)
	s.telemetry.RecordSlot(ctx, e)

	if !e.Posted || e.DecisionID == nil {
		return
	}
	s.recordRecentPost(ctx, *e.DecisionID)
}

func (s *slotTracker) recordRecentPost(ctx context.Context, decisionID uuid.UUID) {
	decision, err := s.decisions.GetByID(ctx, decisionID)
	if err != nil {
		s.logger.Warn("Failed to load posted decision for recent posts",
			logger.String("decision_id", decisionID.String()),
			logger.Error(err),
		)
		return
	}
	if decision.PublishedID == nil {
		return
	}

	post := metrics.RecentPost{
		PublishedID: *decision.PublishedID,
		DecisionID:  decision.DecisionID.String(),
		TargetID:    decision.TargetID,
	}
	if decision.TemplateID != nil {
		post.TemplateID = *decision.TemplateID
	}
	if decision.PostedAt != nil {
		post.PostedAt = *decision.PostedAt
	}

	if err := s.metrics.AddRecentPost(ctx, post); err != nil {
		s.logger.Warn("Failed to record recent post",
			logger.String("published_id", post.PublishedID),
			logger.Error(err),
		)
	}
}
