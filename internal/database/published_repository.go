package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// PublishedRecordRepository manages externally observed published items and
// the reconciler cursor in PostgreSQL
type PublishedRecordRepository struct {
	db *sqlx.DB
}

// NewPublishedRecordRepository creates a new repository
func NewPublishedRecordRepository(db *sqlx.DB) *PublishedRecordRepository {
	return &PublishedRecordRepository{db: db}
}

// Upsert records an observed published item. Repeated observations refresh
// observed_at but keep first_seen_at and any decision link.
func (r *PublishedRecordRepository) Upsert(ctx context.Context, rec *domain.PublishedRecord) error {
	query := `
		INSERT INTO published_records (published_id, target_id, decision_id, observed_at, first_seen_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (published_id) DO UPDATE SET
			observed_at = EXCLUDED.observed_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.PublishedID, rec.TargetID, rec.DecisionID, rec.ObservedAt)
	if err != nil {
		return fmt.Errorf("upsert published record: %w", err)
	}
	return nil
}

// LinkDecision attaches a decision to an observed record
func (r *PublishedRecordRepository) LinkDecision(ctx context.Context, publishedID string, decisionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE published_records SET decision_id = $2 WHERE published_id = $1`,
		publishedID, decisionID)
	if err != nil {
		return fmt.Errorf("link decision to published record: %w", err)
	}
	return nil
}

// GetByID retrieves one published record
func (r *PublishedRecordRepository) GetByID(ctx context.Context, publishedID string) (*domain.PublishedRecord, error) {
	var rec domain.PublishedRecord
	query := `
		SELECT published_id, target_id, decision_id, observed_at, first_seen_at
		FROM published_records
		WHERE published_id = $1`

	err := r.db.GetContext(ctx, &rec, query, publishedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get published record: %w", err)
	}
	return &rec, nil
}

// GetCursor retrieves the reconciler's high-water mark. A zero time means no
// sweep has completed yet.
func (r *PublishedRecordRepository) GetCursor(ctx context.Context) (time.Time, error) {
	var cursor time.Time
	err := r.db.GetContext(ctx, &cursor,
		`SELECT observed_through FROM reconcile_cursor WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get reconcile cursor: %w", err)
	}
	return cursor, nil
}

// UpdateCursor advances the reconciler's high-water mark
func (r *PublishedRecordRepository) UpdateCursor(ctx context.Context, observedThrough time.Time) error {
	query := `
		INSERT INTO reconcile_cursor (id, observed_through, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			observed_through = EXCLUDED.observed_through,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, observedThrough, time.Now())
	if err != nil {
		return fmt.Errorf("update reconcile cursor: %w", err)
	}
	return nil
}
