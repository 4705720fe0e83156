// Package budget implements the fail-closed spend gate over a durable ledger.
//
// Spend is tracked as append-only ledger entries: positive amounts reserve,
// negative amounts release a reservation that incurred no external cost.
// Admission is a conditional append ("append if the period total would stay
// within the limit") that the ledger serializes across process instances, so
// concurrent schedulers can never over-admit against the same budget
// snapshot.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// Ledger is the durable entry store. Reserve must be atomic: the conditional
// append either lands within the limit or returns domain.ErrBudgetExhausted.
type Ledger interface {
	Reserve(ctx context.Context, entry *domain.BudgetEntry, since time.Time, limit int64) error
	Append(ctx context.Context, entry *domain.BudgetEntry) error
	SpentSince(ctx context.Context, since time.Time) (int64, error)
}

// Config holds budget enforcement parameters. Amounts are cents.
type Config struct {
	Period         time.Duration
	PeriodLimit    int64
	CostPerPost    int64
	TightThreshold int64
}

// Enforcer performs budget admission checks for the scheduler
type Enforcer struct {
	ledger Ledger
	cfg    Config
	logger logger.Logger
}

// NewEnforcer creates an enforcer over the given ledger
func NewEnforcer(ledger Ledger, cfg Config, log logger.Logger) *Enforcer {
	return &Enforcer{
		ledger: ledger,
		cfg:    cfg,
		logger: log,
	}
}

// Reservation is a successful budget hold for one decision
type Reservation struct {
	EntryID     uuid.UUID
	AmountCents int64
	DecisionID  *uuid.UUID
}

// Reserve atomically holds the per-post cost against the trailing accounting
// period. Fails closed: any ledger error denies admission.
func (e *Enforcer) Reserve(ctx context.Context, decisionID *uuid.UUID) (*Reservation, error) {
	entry := &domain.BudgetEntry{
		ID:          uuid.New(),
		AmountCents: e.cfg.CostPerPost,
		DecisionID:  decisionID,
		Note:        "post reservation",
		CreatedAt:   time.Now().UTC(),
	}

	since := time.Now().Add(-e.cfg.Period)
	if err := e.ledger.Reserve(ctx, entry, since, e.cfg.PeriodLimit); err != nil {
		if errors.Is(err, domain.ErrBudgetExhausted) {
			e.logger.Info("budget reservation denied",
				logger.Int64("amount_cents", entry.AmountCents),
				logger.Int64("period_limit", e.cfg.PeriodLimit),
			)
			return nil, err
		}
		return nil, fmt.Errorf("reserve budget: %w", err)
	}

	e.logger.Debug("budget reserved",
		logger.String("entry_id", entry.ID.String()),
		logger.Int64("amount_cents", entry.AmountCents),
	)

	return &Reservation{
		EntryID:     entry.ID,
		AmountCents: entry.AmountCents,
		DecisionID:  decisionID,
	}, nil
}

// Release appends a compensating entry for a reservation whose decision
// aborted before any external cost was incurred.
func (e *Enforcer) Release(ctx context.Context, res *Reservation, note string) error {
	entry := &domain.BudgetEntry{
		ID:          uuid.New(),
		AmountCents: -res.AmountCents,
		DecisionID:  res.DecisionID,
		Note:        note,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("release budget: %w", err)
	}

	e.logger.Debug("budget released",
		logger.String("entry_id", entry.ID.String()),
		logger.Int64("amount_cents", entry.AmountCents),
		logger.String("note", note),
	)
	return nil
}

// Remaining returns the budget left in the current accounting period
func (e *Enforcer) Remaining(ctx context.Context) (int64, error) {
	spent, err := e.ledger.SpentSince(ctx, time.Now().Add(-e.cfg.Period))
	if err != nil {
		return 0, fmt.Errorf("get spend: %w", err)
	}
	return e.cfg.PeriodLimit - spent, nil
}

// TierCeiling maps remaining budget to the deepest candidate tier the
// scheduler may claim: under pressure, only top-tier candidates are worth
// the spend.
func (e *Enforcer) TierCeiling(remaining int64) int {
	if remaining < e.cfg.TightThreshold {
		return domain.TierTop
	}
	return domain.TierBottom
}
