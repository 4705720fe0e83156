package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// OverrideRepository manages the manual-override audit log in PostgreSQL.
// Every manual bypass is a durable row tied to the decision it touched; there
// is no global toggle that can silently skip safety checks.
type OverrideRepository struct {
	db *sqlx.DB
}

// NewOverrideRepository creates a new repository
func NewOverrideRepository(db *sqlx.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Insert appends one override record
func (r *OverrideRepository) Insert(ctx context.Context, o *domain.DecisionOverride) error {
	query := `
		INSERT INTO decision_overrides (id, decision_id, permit_id, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.DecisionID, o.PermitID, o.Actor, o.Reason, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

// ListByDecision returns all overrides recorded against a decision
func (r *OverrideRepository) ListByDecision(ctx context.Context, decisionID uuid.UUID) ([]domain.DecisionOverride, error) {
	query := `
		SELECT id, decision_id, permit_id, actor, reason, created_at
		FROM decision_overrides
		WHERE decision_id = $1
		ORDER BY created_at ASC`

	var overrides []domain.DecisionOverride
	if err := r.db.SelectContext(ctx, &overrides, query, decisionID); err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return overrides, nil
}
