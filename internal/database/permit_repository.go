package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// permitSelectList is the column list for SELECT/RETURNING on permits
const permitSelectList = `permit_id, decision_id, state, published_id, revoke_reason,
			created_at, approved_at, used_at, revoked_at`

// PermitRepository manages posting permits in PostgreSQL. The table carries a
// partial unique index on decision_id WHERE state != 'revoked', which is the
// serialized check-then-act backing permit issuance: two concurrent inserts
// for the same decision cannot both succeed, regardless of how many process
// instances are running.
type PermitRepository struct {
	db *sqlx.DB
}

// NewPermitRepository creates a new repository
func NewPermitRepository(db *sqlx.DB) *PermitRepository {
	return &PermitRepository{db: db}
}

// Insert persists a new pending permit. Returns domain.ErrPermitConflict if a
// non-revoked permit already exists for the decision.
func (r *PermitRepository) Insert(ctx context.Context, p *domain.Permit) error {
	query := `
		INSERT INTO permits (permit_id, decision_id, state, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, p.PermitID, p.DecisionID, p.State, p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrPermitConflict
		}
		return fmt.Errorf("insert permit: %w", err)
	}
	return nil
}

// GetByID retrieves a permit
func (r *PermitRepository) GetByID(ctx context.Context, permitID uuid.UUID) (*domain.Permit, error) {
	var p domain.Permit
	query := `SELECT ` + permitSelectList + ` FROM permits WHERE permit_id = $1`

	err := r.db.GetContext(ctx, &p, query, permitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get permit: %w", err)
	}
	return &p, nil
}

// GetActiveByDecision retrieves the single non-revoked permit for a decision,
// if one exists
func (r *PermitRepository) GetActiveByDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error) {
	var p domain.Permit
	query := `SELECT ` + permitSelectList + `
		FROM permits
		WHERE decision_id = $1 AND state != 'revoked'`

	err := r.db.GetContext(ctx, &p, query, decisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active permit: %w", err)
	}
	return &p, nil
}

// Approve transitions a permit pending -> approved. The conditional update is
// the approval race arbiter: zero rows means the permit was not pending.
func (r *PermitRepository) Approve(ctx context.Context, permitID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE permits
		SET state = 'approved', approved_at = NOW()
		WHERE permit_id = $1 AND state = 'pending'`, permitID)
	if err != nil {
		return fmt.Errorf("approve permit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrPermitConflict
	}
	return nil
}

// MarkUsed transitions approved -> used and links the platform post ID.
// Calling it again with the same published_id is a no-op; a different
// published_id returns domain.ErrPublishedIDMismatch.
func (r *PermitRepository) MarkUsed(ctx context.Context, permitID uuid.UUID, publishedID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE permits
		SET state = 'used', published_id = $2, used_at = NOW()
		WHERE permit_id = $1 AND state = 'approved'`, permitID, publishedID)
	if err != nil {
		return fmt.Errorf("mark permit used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// No transition happened: decide between idempotent repeat and conflict.
	p, err := r.GetByID(ctx, permitID)
	if err != nil {
		return err
	}
	if p.State == domain.PermitStateUsed && p.PublishedID != nil && *p.PublishedID == publishedID {
		return nil
	}
	if p.State == domain.PermitStateUsed {
		return domain.ErrPublishedIDMismatch
	}
	return domain.ErrPermitNotApproved
}

// Revoke transitions a pending or approved permit to revoked, freeing the
// decision for a fresh permit. A used permit can never be revoked.
func (r *PermitRepository) Revoke(ctx context.Context, permitID uuid.UUID, reason string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE permits
		SET state = 'revoked', revoke_reason = $2, revoked_at = NOW()
		WHERE permit_id = $1 AND state IN ('pending', 'approved')`, permitID, reason)
	if err != nil {
		return fmt.Errorf("revoke permit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountByState returns permit counts grouped by state for monitoring
func (r *PermitRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM permits GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count permits by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var count int64
		if scanErr := rows.Scan(&state, &count); scanErr != nil {
			return nil, fmt.Errorf("scan permit count: %w", scanErr)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}
