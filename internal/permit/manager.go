// Package permit manages the single-use authorization tokens that gate the
// irreversible publish action.
package permit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// Store is the durable backing for permits. Insert must enforce at most one
// non-revoked permit per decision; Approve and MarkUsed must be conditional
// state transitions that report zero-row outcomes as conflicts.
type Store interface {
	Insert(ctx context.Context, p *domain.Permit) error
	GetByID(ctx context.Context, permitID uuid.UUID) (*domain.Permit, error)
	GetActiveByDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error)
	Approve(ctx context.Context, permitID uuid.UUID) error
	MarkUsed(ctx context.Context, permitID uuid.UUID, publishedID string) error
	Revoke(ctx context.Context, permitID uuid.UUID, reason string) error
}

// Manager issues, verifies and consumes permits. All mutual exclusion lives
// in the store's constraints; the manager only sequences the transitions.
type Manager struct {
	store  Store
	logger logger.Logger
}

// NewManager creates a permit manager
func NewManager(store Store, log logger.Logger) *Manager {
	return &Manager{store: store, logger: log}
}

// Acquire issues and approves a permit for a decision. Idempotent: when a
// non-revoked permit already exists for the decision it is returned instead
// of a fresh one, approving it first if it is still pending, so a caller
// that crashed between acquiring and recording the permit can recover the
// same publish authority. Only a used permit returns
// domain.ErrPermitConflict, because that decision's authority was consumed.
func (m *Manager) Acquire(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error) {
	p := domain.NewPermit(decisionID)

	err := m.store.Insert(ctx, p)
	if err == nil {
		if approveErr := m.ensureApproved(ctx, p); approveErr != nil {
			return nil, approveErr
		}

		m.logger.Debug("permit acquired",
			logger.String("permit_id", p.PermitID.String()),
			logger.String("decision_id", decisionID.String()),
		)
		return p, nil
	}
	if !errors.Is(err, domain.ErrPermitConflict) {
		return nil, err
	}

	existing, getErr := m.store.GetActiveByDecision(ctx, decisionID)
	if getErr != nil {
		return nil, fmt.Errorf("load existing permit: %w", getErr)
	}
	switch existing.State {
	case domain.PermitStatePending, domain.PermitStateApproved:
		if approveErr := m.ensureApproved(ctx, existing); approveErr != nil {
			return nil, approveErr
		}
		m.logger.Debug("permit acquire returned existing permit",
			logger.String("permit_id", existing.PermitID.String()),
			logger.String("decision_id", decisionID.String()),
		)
		return existing, nil
	default:
		m.logger.Error("permit conflict on acquire, authority already consumed",
			logger.String("decision_id", decisionID.String()),
			logger.String("state", string(existing.State)),
		)
		return nil, domain.ErrPermitConflict
	}
}

// ensureApproved moves a pending permit to approved. A conditional-update
// conflict is re-read: if a concurrent acquirer already approved the same
// permit the outcome is the one this caller wanted, so adopt it.
func (m *Manager) ensureApproved(ctx context.Context, p *domain.Permit) error {
	if p.State == domain.PermitStateApproved {
		return nil
	}
	err := m.store.Approve(ctx, p.PermitID)
	if err == nil {
		p.State = domain.PermitStateApproved
		return nil
	}
	if !errors.Is(err, domain.ErrPermitConflict) {
		return err
	}
	current, getErr := m.store.GetByID(ctx, p.PermitID)
	if getErr != nil {
		return err
	}
	if current.State != domain.PermitStateApproved {
		return err
	}
	*p = *current
	return nil
}

// VerifyBeforeAction re-reads the permit immediately before the irreversible
// action and reports whether it still authorizes it. Fail closed: any read
// error means not authorized.
func (m *Manager) VerifyBeforeAction(ctx context.Context, permitID uuid.UUID) error {
	p, err := m.store.GetByID(ctx, permitID)
	if err != nil {
		return fmt.Errorf("verify permit: %w", err)
	}
	if p.State != domain.PermitStateApproved {
		m.logger.Warn("permit no longer approved at action time",
			logger.String("permit_id", permitID.String()),
			logger.String("state", string(p.State)),
		)
		return domain.ErrPermitNotApproved
	}
	return nil
}

// MarkUsed consumes the permit, linking the platform post ID. Idempotent for
// the same published ID; a different published ID is a consistency fault.
func (m *Manager) MarkUsed(ctx context.Context, permitID uuid.UUID, publishedID string) error {
	if err := m.store.MarkUsed(ctx, permitID, publishedID); err != nil {
		if err == domain.ErrPublishedIDMismatch {
			m.logger.Error("permit already consumed by a different post",
				logger.String("permit_id", permitID.String()),
				logger.String("published_id", publishedID),
			)
		}
		return err
	}
	return nil
}

// Revoke cancels an unused permit, freeing the decision for a fresh one
func (m *Manager) Revoke(ctx context.Context, permitID uuid.UUID, reason string) error {
	if err := m.store.Revoke(ctx, permitID, reason); err != nil {
		return err
	}
	m.logger.Info("permit revoked",
		logger.String("permit_id", permitID.String()),
		logger.String("reason", reason),
	)
	return nil
}

// ActiveForDecision returns the non-revoked permit for a decision, or
// domain.ErrNotFound when none exists
func (m *Manager) ActiveForDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error) {
	return m.store.GetActiveByDecision(ctx, decisionID)
}
