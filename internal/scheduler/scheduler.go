// Package scheduler runs the slot tick: the single pipeline that takes one
// candidate from admission gates through generation, permit and publish.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/budget"
	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/generate"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/platform"
)

// CandidateQueue claims the best eligible candidate up to a tier ceiling
type CandidateQueue interface {
	ClaimBest(ctx context.Context, maxTier int) (*domain.Candidate, error)
}

// DecisionStore persists decisions and their compare-and-set transitions
type DecisionStore interface {
	Insert(ctx context.Context, d *domain.Decision) error
	SetTemplate(ctx context.Context, id uuid.UUID, templateID, promptVersion string) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.DecisionStatus) error
	SetContent(ctx context.Context, id uuid.UUID, content string) error
	SetPermit(ctx context.Context, id, permitID uuid.UUID) error
	MarkPosted(ctx context.Context, id uuid.UUID, publishedID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CountPostedSince(ctx context.Context, since time.Time) (int, error)
	LastPostedAt(ctx context.Context) (time.Time, error)
}

// SlotLog records exactly one event per tick
type SlotLog interface {
	Insert(ctx context.Context, e *domain.SlotEvent) error
}

// Budget is the spend admission gate
type Budget interface {
	Reserve(ctx context.Context, decisionID *uuid.UUID) (*budget.Reservation, error)
	Release(ctx context.Context, res *budget.Reservation, note string) error
	Remaining(ctx context.Context) (int64, error)
	TierCeiling(remaining int64) int
}

// TemplateSelector picks a template for the decision
type TemplateSelector interface {
	Select(ctx context.Context) (templateID, promptVersion string, err error)
	Fallback() string
}

// Generator drafts reply content
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
}

// Publisher performs the irreversible publish
type Publisher interface {
	Publish(ctx context.Context, targetID, content string, verifier platform.PermitVerifier) (string, error)
}

// Permits issues and consumes publish authorizations
type Permits interface {
	Acquire(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error)
	VerifyBeforeAction(ctx context.Context, permitID uuid.UUID) error
	MarkUsed(ctx context.Context, permitID uuid.UUID, publishedID string) error
}

// Tracker observes slot outcomes for metrics. Implementations must not fail
// the tick.
type Tracker interface {
	RecordSlot(ctx context.Context, e *domain.SlotEvent)
}

// NopTracker discards slot observations
type NopTracker struct{}

// RecordSlot does nothing
func (NopTracker) RecordSlot(ctx context.Context, e *domain.SlotEvent) {}

// Scheduler drives one decision pipeline per slot tick. Gates run before any
// candidate is claimed so a gated tick consumes nothing from the queue.
type Scheduler struct {
	queue     CandidateQueue
	decisions DecisionStore
	slots     SlotLog
	budget    Budget
	templates TemplateSelector
	generator Generator
	publisher Publisher
	permits   Permits
	tracker   Tracker
	cfg       config.AgentConfig
	logger    logger.Logger
}

// New creates a scheduler
func New(
	queue CandidateQueue,
	decisions DecisionStore,
	slots SlotLog,
	budget Budget,
	templates TemplateSelector,
	generator Generator,
	publisher Publisher,
	permits Permits,
	tracker Tracker,
	cfg config.AgentConfig,
	log logger.Logger,
) *Scheduler {
	if tracker == nil {
		tracker = NopTracker{}
	}
	return &Scheduler{
		queue:     queue,
		decisions: decisions,
		slots:     slots,
		budget:    budget,
		templates: templates,
		generator: generator,
		publisher: publisher,
		permits:   permits,
		tracker:   tracker,
		cfg:       cfg,
		logger:    log,
	}
}

// Tick runs one scheduling slot. Exactly one slot event is recorded whatever
// the outcome. Gate misses and an empty queue are normal outcomes, not
// errors; the returned error reports infrastructure trouble only.
func (s *Scheduler) Tick(ctx context.Context, slotTime time.Time) error {
	log := s.logger.With(logger.Time("slot_time", slotTime))

	// Rate gate: hard ceiling on posts in the trailing window.
	posted, err := s.decisions.CountPostedSince(ctx, slotTime.Add(-s.cfg.RateWindow))
	if err != nil {
		s.recordMiss(ctx, slotTime, domain.MissReasonRateLimit)
		return fmt.Errorf("rate gate: %w", err)
	}
	if posted >= s.cfg.MaxPostsPerWindow {
		log.Info("slot missed, rate window full",
			logger.Int("posted", posted),
			logger.Int("max", s.cfg.MaxPostsPerWindow),
		)
		s.recordMiss(ctx, slotTime, domain.MissReasonRateLimit)
		return nil
	}

	// Budget gate: the reservation is the admission; it is released again if
	// the tick aborts before generation incurs external cost.
	reservation, err := s.budget.Reserve(ctx, nil)
	if err != nil {
		s.recordMiss(ctx, slotTime, domain.MissReasonBudget)
		if errors.Is(err, domain.ErrBudgetExhausted) {
			log.Info("slot missed, budget exhausted")
			return nil
		}
		return fmt.Errorf("budget gate: %w", err)
	}

	// Spacing gate: minimum gap since the last successful post.
	last, err := s.decisions.LastPostedAt(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.releaseBudget(ctx, reservation, "spacing gate error")
		s.recordMiss(ctx, slotTime, domain.MissReasonMinSpacing)
		return fmt.Errorf("spacing gate: %w", err)
	}
	if err == nil && slotTime.Sub(last) < s.cfg.MinSpacing {
		log.Info("slot missed, too soon after last post",
			logger.Time("last_posted_at", last),
			logger.Duration("min_spacing", s.cfg.MinSpacing),
		)
		s.releaseBudget(ctx, reservation, "min spacing")
		s.recordMiss(ctx, slotTime, domain.MissReasonMinSpacing)
		return nil
	}

	// Budget pressure decides how deep in the queue this tick may reach.
	remaining, err := s.budget.Remaining(ctx)
	if err != nil {
		s.releaseBudget(ctx, reservation, "tier ceiling error")
		s.recordMiss(ctx, slotTime, domain.MissReasonBudget)
		return fmt.Errorf("budget remaining: %w", err)
	}
	maxTier := s.budget.TierCeiling(remaining)

	candidate, err := s.queue.ClaimBest(ctx, maxTier)
	if err != nil {
		s.releaseBudget(ctx, reservation, "no candidate claimed")
		s.recordMiss(ctx, slotTime, domain.MissReasonQueueEmpty)
		if errors.Is(err, domain.ErrNoCandidates) {
			log.Info("slot missed, queue empty", logger.Int("max_tier", maxTier))
			return nil
		}
		return fmt.Errorf("claim candidate: %w", err)
	}

	decision := domain.NewDecision(candidate)
	if err := s.decisions.Insert(ctx, decision); err != nil {
		s.releaseBudget(ctx, reservation, "decision insert failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return fmt.Errorf("insert decision: %w", err)
	}

	log = log.With(
		logger.String("decision_id", decision.DecisionID.String()),
		logger.String("target_id", decision.TargetID),
		logger.Int("tier", decision.Tier),
	)

	return s.runPipeline(ctx, log, slotTime, decision, candidate, reservation)
}

// runPipeline takes an admitted decision through template selection,
// generation, permit and publish.
func (s *Scheduler) runPipeline(
	ctx context.Context,
	log logger.Logger,
	slotTime time.Time,
	decision *domain.Decision,
	candidate *domain.Candidate,
	reservation *budget.Reservation,
) error {
	templateID, promptVersion, err := s.templates.Select(ctx)
	if err != nil {
		s.failDecision(ctx, decision.DecisionID, "template_selection_failed")
		s.releaseBudget(ctx, reservation, "template selection failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return fmt.Errorf("select template: %w", err)
	}
	if err := s.decisions.SetTemplate(ctx, decision.DecisionID, templateID, promptVersion); err != nil {
		s.failDecision(ctx, decision.DecisionID, "template_selection_failed")
		s.releaseBudget(ctx, reservation, "template selection failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return fmt.Errorf("set template: %w", err)
	}
	if err := s.decisions.TransitionStatus(ctx, decision.DecisionID,
		domain.DecisionStatusTemplateSelecting, domain.DecisionStatusGenerating); err != nil {
		s.failDecision(ctx, decision.DecisionID, "template_selection_failed")
		s.releaseBudget(ctx, reservation, "template selection failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return fmt.Errorf("transition to generating: %w", err)
	}

	// From here the generation call may incur external cost, so the
	// reservation sticks whatever happens next.
	content, usedTemplate, err := s.generateWithRetry(ctx, log, templateID, promptVersion, candidate)
	if err != nil {
		log.Warn("slot missed, generation failed", logger.Error(err))
		s.failDecision(ctx, decision.DecisionID, "generation_failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return nil
	}
	if usedTemplate != templateID {
		// Attribution must credit the template that actually produced the
		// post, not the one the selector picked first.
		if err := s.decisions.SetTemplate(ctx, decision.DecisionID, usedTemplate, promptVersion); err != nil {
			s.failDecision(ctx, decision.DecisionID, "generation_failed")
			s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
			return fmt.Errorf("set fallback template: %w", err)
		}
	}

	if err := s.decisions.SetContent(ctx, decision.DecisionID, content); err != nil {
		s.failDecision(ctx, decision.DecisionID, "generation_failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonGeneration)
		return fmt.Errorf("set content: %w", err)
	}

	permit, err := s.permits.Acquire(ctx, decision.DecisionID)
	if err != nil {
		if errors.Is(err, domain.ErrPermitConflict) {
			log.Error("slot missed, permit conflict", logger.Error(err))
			s.failDecision(ctx, decision.DecisionID, "permit_conflict")
			s.recordMiss(ctx, slotTime, domain.MissReasonPermit)
			return nil
		}
		s.failDecision(ctx, decision.DecisionID, "permit_acquire_failed")
		s.recordMiss(ctx, slotTime, domain.MissReasonPermit)
		return fmt.Errorf("acquire permit: %w", err)
	}

	if err := s.decisions.SetPermit(ctx, decision.DecisionID, permit.PermitID); err != nil {
		s.recordMiss(ctx, slotTime, domain.MissReasonPermit)
		return fmt.Errorf("set permit: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	verifier := platform.PermitVerifierFunc(func(vctx context.Context) error {
		return s.permits.VerifyBeforeAction(vctx, permit.PermitID)
	})

	publishedID, err := s.publisher.Publish(publishCtx, decision.TargetID, content, verifier)
	if err != nil {
		// The outcome is unknown: the decision stays in posting for the
		// reconciler to confirm or the watchdog to time out. Marking it
		// failed here could double-post a reply that actually landed.
		log.Warn("slot missed, publish did not confirm", logger.Error(err))
		s.recordMiss(ctx, slotTime, domain.MissReasonPublish)
		return nil
	}

	if err := s.permits.MarkUsed(ctx, permit.PermitID, publishedID); err != nil {
		// The post exists on the platform; record that truth and surface the
		// permit inconsistency loudly.
		log.Error("permit consumption failed after publish",
			logger.String("permit_id", permit.PermitID.String()),
			logger.String("published_id", publishedID),
			logger.Error(err),
		)
	}

	if err := s.decisions.MarkPosted(ctx, decision.DecisionID, publishedID); err != nil {
		s.recordMiss(ctx, slotTime, domain.MissReasonPublish)
		return fmt.Errorf("mark posted: %w", err)
	}

	log.Info("slot posted", logger.String("published_id", publishedID))
	s.recordPost(ctx, slotTime, decision.DecisionID)
	return nil
}

// generateWithRetry calls the generator once with the selected template and,
// on failure, once more with the fallback template. Returns the content and
// the template that actually produced it.
func (s *Scheduler) generateWithRetry(
	ctx context.Context,
	log logger.Logger,
	templateID, promptVersion string,
	candidate *domain.Candidate,
) (string, string, error) {
	req := generate.Request{
		TemplateID:    templateID,
		PromptVersion: promptVersion,
		TargetID:      candidate.TargetID,
		Author:        candidate.Author,
		TextExcerpt:   candidate.TextExcerpt,
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	content, err := s.generator.Generate(genCtx, req)
	if err == nil {
		return content, templateID, nil
	}

	fallback := s.templates.Fallback()
	log.Warn("generation failed, retrying with fallback template",
		logger.String("template_id", templateID),
		logger.String("fallback_id", fallback),
		logger.Error(err),
	)

	req.TemplateID = fallback
	retryCtx, cancelRetry := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancelRetry()

	content, retryErr := s.generator.Generate(retryCtx, req)
	if retryErr != nil {
		return "", "", fmt.Errorf("generation failed after fallback retry: %w", retryErr)
	}
	return content, fallback, nil
}

func (s *Scheduler) failDecision(ctx context.Context, id uuid.UUID, reason string) {
	if err := s.decisions.MarkFailed(ctx, id, reason); err != nil {
		s.logger.Error("failed to mark decision failed",
			logger.String("decision_id", id.String()),
			logger.String("reason", reason),
			logger.Error(err),
		)
	}
}

func (s *Scheduler) releaseBudget(ctx context.Context, res *budget.Reservation, note string) {
	if err := s.budget.Release(ctx, res, note); err != nil {
		s.logger.Error("failed to release budget reservation",
			logger.String("entry_id", res.EntryID.String()),
			logger.Error(err),
		)
	}
}

func (s *Scheduler) recordMiss(ctx context.Context, slotTime time.Time, reason string) {
	e := domain.NewSlotMiss(slotTime, reason)
	if err := s.slots.Insert(ctx, e); err != nil {
		s.logger.Error("failed to record slot miss",
			logger.String("miss_reason", reason),
			logger.Error(err),
		)
		return
	}
	s.tracker.RecordSlot(ctx, e)
}

func (s *Scheduler) recordPost(ctx context.Context, slotTime time.Time, decisionID uuid.UUID) {
	e := domain.NewSlotPost(slotTime, decisionID)
	if err := s.slots.Insert(ctx, e); err != nil {
		s.logger.Error("failed to record slot post",
			logger.String("decision_id", decisionID.String()),
			logger.Error(err),
		)
		return
	}
	s.tracker.RecordSlot(ctx, e)
}
