// Package queue implements the tiered, TTL-bound candidate queue.
package queue

import (
	"context"
	"fmt"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// CandidateStore is the durable backing for queued candidates. ClaimBest must
// be atomic under concurrent callers: only one caller may successfully claim
// a given candidate.
type CandidateStore interface {
	Insert(ctx context.Context, c *domain.Candidate) error
	ClaimBest(ctx context.Context, maxTier int) (*domain.Candidate, error)
	SweepExpired(ctx context.Context) (int64, error)
	TargetQueued(ctx context.Context, targetID string) (bool, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// DecisionChecker answers whether a target already has an in-flight decision
type DecisionChecker interface {
	HasNonTerminalForTarget(ctx context.Context, targetID string) (bool, error)
}

// Queue assigns tiers and expiry on enqueue and delegates atomic claims to
// the store
type Queue struct {
	store     CandidateStore
	decisions DecisionChecker
	cfg       config.QueueConfig
	logger    logger.Logger
}

// NewQueue creates a candidate queue
func NewQueue(store CandidateStore, decisions DecisionChecker, cfg config.QueueConfig, log logger.Logger) *Queue {
	return &Queue{
		store:     store,
		decisions: decisions,
		cfg:       cfg,
		logger:    log,
	}
}

// tierFor assigns a tier from the raw score. Thresholds are inclusive lower
// bounds: a score exactly at a threshold gets the higher tier.
func (q *Queue) tierFor(score float64) int {
	switch {
	case score >= q.cfg.Tier1Threshold:
		return domain.TierTop
	case score >= q.cfg.Tier2Threshold:
		return domain.TierMid
	default:
		return domain.TierBottom
	}
}

// Enqueue adds a candidate to the queue. Rejects targets that are already
// queued or already have a non-terminal decision (dedup by target_id),
// returning domain.ErrAlreadyExists. The store's unique index backstops the
// check under concurrent enqueues.
func (q *Queue) Enqueue(ctx context.Context, c *domain.Candidate) error {
	queued, err := q.store.TargetQueued(ctx, c.TargetID)
	if err != nil {
		return fmt.Errorf("check queued target: %w", err)
	}
	if queued {
		q.logger.Debug("candidate rejected, target already queued",
			logger.String("target_id", c.TargetID),
			logger.String("source_feed", c.SourceFeed),
		)
		return domain.ErrAlreadyExists
	}

	inFlight, err := q.decisions.HasNonTerminalForTarget(ctx, c.TargetID)
	if err != nil {
		return fmt.Errorf("check in-flight decision: %w", err)
	}
	if inFlight {
		q.logger.Debug("candidate rejected, target has in-flight decision",
			logger.String("target_id", c.TargetID),
			logger.String("source_feed", c.SourceFeed),
		)
		return domain.ErrAlreadyExists
	}

	c.Tier = q.tierFor(c.RawScore)
	c.ExpiresAt = c.EnqueuedAt.Add(q.cfg.TierTTL(c.Tier))

	if err := q.store.Insert(ctx, c); err != nil {
		return err
	}

	q.logger.Debug("candidate enqueued",
		logger.String("candidate_id", c.ID.String()),
		logger.String("target_id", c.TargetID),
		logger.Int("tier", c.Tier),
		logger.Float64("raw_score", c.RawScore),
		logger.Time("expires_at", c.ExpiresAt),
	)
	return nil
}

// ClaimBest sweeps expired candidates and atomically claims the best eligible
// one with tier <= maxTier. Returns domain.ErrNoCandidates when nothing is
// eligible; that is a normal outcome.
func (q *Queue) ClaimBest(ctx context.Context, maxTier int) (*domain.Candidate, error) {
	if _, err := q.SweepExpired(ctx); err != nil {
		return nil, err
	}

	c, err := q.store.ClaimBest(ctx, maxTier)
	if err != nil {
		return nil, err
	}

	q.logger.Debug("candidate claimed",
		logger.String("candidate_id", c.ID.String()),
		logger.String("target_id", c.TargetID),
		logger.Int("tier", c.Tier),
		logger.Float64("raw_score", c.RawScore),
	)
	return c, nil
}

// SweepExpired marks all candidates past their expiry as expired
func (q *Queue) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := q.store.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if swept > 0 {
		q.logger.Info("swept expired candidates", logger.Int64("count", swept))
	}
	return swept, nil
}

// Stats returns queue statistics for monitoring
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return q.store.Stats(ctx)
}
