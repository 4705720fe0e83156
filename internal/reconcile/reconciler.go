// Package reconcile converges internal decision state with what the platform
// actually shows: ghosts (external posts with no internal record) get a
// synthetic decision, zombies (decisions stuck in posting) get re-verified
// against the platform.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/platform"
)

// PlatformReader lists and looks up the account's published posts
type PlatformReader interface {
	ListRecentlyPublished(ctx context.Context, since time.Time) ([]platform.Post, error)
	LookupByTarget(ctx context.Context, targetID string) (*platform.Post, error)
}

// DecisionStore is the decision access the reconciler needs. It never touches
// permits: a ghost's permit trail is whatever it was, and rewriting history
// would only hide the inconsistency the ghost already records.
type DecisionStore interface {
	GetByPublishedID(ctx context.Context, publishedID string) (*domain.Decision, error)
	InsertReconciled(ctx context.Context, targetID, publishedID string, observedAt time.Time) (bool, error)
	ListStalePosting(ctx context.Context, grace time.Duration) ([]domain.Decision, error)
	MarkPosted(ctx context.Context, id uuid.UUID, publishedID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// RecordStore persists observed published items and the sweep cursor
type RecordStore interface {
	Upsert(ctx context.Context, rec *domain.PublishedRecord) error
	LinkDecision(ctx context.Context, publishedID string, decisionID uuid.UUID) error
	GetCursor(ctx context.Context) (time.Time, error)
	UpdateCursor(ctx context.Context, observedThrough time.Time) error
}

// Stats summarizes one reconciliation sweep
type Stats struct {
	Observed        int
	Linked          int
	Ghosts          int
	ZombiesChecked  int
	ZombiesResolved int
	ZombiesFailed   int
}

// Reconciler runs periodic sweeps against the platform
type Reconciler struct {
	reader    PlatformReader
	decisions DecisionStore
	records   RecordStore
	cfg       config.AgentConfig
	logger    logger.Logger
}

// New creates a reconciler
func New(reader PlatformReader, decisions DecisionStore, records RecordStore, cfg config.AgentConfig, log logger.Logger) *Reconciler {
	return &Reconciler{
		reader:    reader,
		decisions: decisions,
		records:   records,
		cfg:       cfg,
		logger:    log,
	}
}

// Sweep runs one reconciliation pass: observe recent platform posts, link or
// synthesize decisions for them, then re-verify stale posting decisions. The
// cursor only advances after a fully successful observation pass, so a failed
// sweep is retried over the same window.
func (r *Reconciler) Sweep(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	cursor, err := r.records.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	since := time.Now().Add(-r.cfg.ReconcileWindow)
	if cursor.After(since) {
		since = cursor
	}

	posts, err := r.reader.ListRecentlyPublished(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}

	observedThrough := cursor
	for i := range posts {
		if err := r.reconcilePost(ctx, &posts[i], stats); err != nil {
			return stats, err
		}
		if posts[i].PublishedAt.After(observedThrough) {
			observedThrough = posts[i].PublishedAt
		}
	}
	stats.Observed = len(posts)

	if observedThrough.After(cursor) {
		if err := r.records.UpdateCursor(ctx, observedThrough); err != nil {
			return stats, fmt.Errorf("advance cursor: %w", err)
		}
	}

	if err := r.checkZombies(ctx, stats); err != nil {
		return stats, err
	}

	if stats.Ghosts > 0 || stats.ZombiesChecked > 0 {
		r.logger.Info("reconciliation sweep completed",
			logger.Int("observed", stats.Observed),
			logger.Int("ghosts", stats.Ghosts),
			logger.Int("zombies_checked", stats.ZombiesChecked),
			logger.Int("zombies_resolved", stats.ZombiesResolved),
			logger.Int("zombies_failed", stats.ZombiesFailed),
		)
	}
	return stats, nil
}

// reconcilePost records one observed post and links or synthesizes its
// decision. Synthesis is idempotent: the partial unique index on published_id
// makes a repeated sweep over the same ghost a no-op.
func (r *Reconciler) reconcilePost(ctx context.Context, post *platform.Post, stats *Stats) error {
	now := time.Now().UTC()
	rec := &domain.PublishedRecord{
		PublishedID: post.ID,
		TargetID:    post.InReplyTo,
		ObservedAt:  now,
		FirstSeenAt: now,
	}
	if err := r.records.Upsert(ctx, rec); err != nil {
		return err
	}

	decision, err := r.decisions.GetByPublishedID(ctx, post.ID)
	if err == nil {
		if linkErr := r.records.LinkDecision(ctx, post.ID, decision.DecisionID); linkErr != nil {
			return linkErr
		}
		stats.Linked++
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("look up decision for post %s: %w", post.ID, err)
	}

	created, err := r.decisions.InsertReconciled(ctx, post.InReplyTo, post.ID, post.PublishedAt)
	if err != nil {
		return fmt.Errorf("synthesize decision for post %s: %w", post.ID, err)
	}
	if created {
		stats.Ghosts++
		r.logger.Warn("ghost post found, synthesized decision",
			logger.String("published_id", post.ID),
			logger.String("target_id", post.InReplyTo),
		)
	}

	synthesized, err := r.decisions.GetByPublishedID(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("load synthesized decision for post %s: %w", post.ID, err)
	}
	if err := r.records.LinkDecision(ctx, post.ID, synthesized.DecisionID); err != nil {
		return err
	}
	return nil
}

// checkZombies re-verifies decisions stuck in posting past the grace period
// with one direct platform lookup each. A found reply resolves the decision
// as posted; a confirmed absence fails it so the target can be retried.
func (r *Reconciler) checkZombies(ctx context.Context, stats *Stats) error {
	stale, err := r.decisions.ListStalePosting(ctx, r.cfg.PostingGrace)
	if err != nil {
		return fmt.Errorf("list stale posting decisions: %w", err)
	}

	for i := range stale {
		d := &stale[i]
		stats.ZombiesChecked++

		post, err := r.reader.LookupByTarget(ctx, d.TargetID)
		switch {
		case err == nil:
			if err := r.decisions.MarkPosted(ctx, d.DecisionID, post.ID); err != nil {
				return fmt.Errorf("resolve zombie %s: %w", d.DecisionID, err)
			}
			stats.ZombiesResolved++
			r.logger.Info("zombie decision resolved as posted",
				logger.String("decision_id", d.DecisionID.String()),
				logger.String("published_id", post.ID),
			)

		case errors.Is(err, platform.ErrPostNotFound):
			if err := r.decisions.MarkFailed(ctx, d.DecisionID, "unconfirmed_publish"); err != nil {
				return fmt.Errorf("fail zombie %s: %w", d.DecisionID, err)
			}
			stats.ZombiesFailed++
			r.logger.Warn("zombie decision failed, publish never landed",
				logger.String("decision_id", d.DecisionID.String()),
				logger.String("target_id", d.TargetID),
			)

		default:
			// Inconclusive lookup: leave the decision for the next sweep or
			// the watchdog rather than guessing.
			r.logger.Warn("zombie re-verify inconclusive",
				logger.String("decision_id", d.DecisionID.String()),
				logger.Error(err),
			)
		}
	}
	return nil
}
