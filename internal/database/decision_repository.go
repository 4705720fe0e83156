package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// decisionSelectList is the column list for SELECT/RETURNING on decisions
const decisionSelectList = `decision_id, candidate_id, target_id, tier, score, source,
			template_id, prompt_version, content, permit_id, published_id,
			status, fail_reason, created_at, updated_at, posted_at`

// nonTerminalStatuses are the statuses the watchdog sweeps and the dedup
// check guards against. Denied is terminal and never swept.
var nonTerminalStatuses = pq.StringArray{
	string(domain.DecisionStatusPending),
	string(domain.DecisionStatusTemplateSelecting),
	string(domain.DecisionStatusGenerating),
	string(domain.DecisionStatusPermitPending),
	string(domain.DecisionStatusPosting),
}

// DecisionRepository manages decision records in PostgreSQL. All status
// transitions are compare-and-set updates so a restarted or concurrent
// process can never resurrect a terminal decision.
type DecisionRepository struct {
	db *sqlx.DB
}

// NewDecisionRepository creates a new repository
func NewDecisionRepository(db *sqlx.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Insert persists a new decision
func (r *DecisionRepository) Insert(ctx context.Context, d *domain.Decision) error {
	query := `
		INSERT INTO decisions (decision_id, candidate_id, target_id, tier, score, source,
			template_id, prompt_version, content, permit_id, published_id,
			status, fail_reason, created_at, updated_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		d.DecisionID, d.CandidateID, d.TargetID, d.Tier, d.Score, d.Source,
		d.TemplateID, d.PromptVersion, d.Content, d.PermitID, d.PublishedID,
		d.Status, d.FailReason, d.CreatedAt, d.UpdatedAt, d.PostedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row was affected
func (r *DecisionRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStatus moves a decision from an expected status to the next one.
// The WHERE clause on the current status makes the transition atomic; a zero
// row count means another writer got there first.
func (r *DecisionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.DecisionStatus) error {
	query := `
		UPDATE decisions
		SET status = $3, updated_at = NOW()
		WHERE decision_id = $1 AND status = $2`
	if err := r.execExpectOneRow(ctx, query, id, from, to); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("transition decision %s -> %s: %w", from, to, err)
	}
	return nil
}

// SetTemplate records the selected template and prompt version during the
// pending -> template_selecting transition
func (r *DecisionRepository) SetTemplate(ctx context.Context, id uuid.UUID, templateID, promptVersion string) error {
	query := `
		UPDATE decisions
		SET template_id = $2, prompt_version = $3, status = 'template_selecting', updated_at = NOW()
		WHERE decision_id = $1 AND status = 'pending'`
	if err := r.execExpectOneRow(ctx, query, id, templateID, promptVersion); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set template: %w", err)
	}
	return nil
}

// SetContent records generated content and moves generating -> permit_pending
func (r *DecisionRepository) SetContent(ctx context.Context, id uuid.UUID, content string) error {
	query := `
		UPDATE decisions
		SET content = $2, status = 'permit_pending', updated_at = NOW()
		WHERE decision_id = $1 AND status = 'generating'`
	if err := r.execExpectOneRow(ctx, query, id, content); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set content: %w", err)
	}
	return nil
}

// SetPermit links the acquired permit and moves permit_pending -> posting
func (r *DecisionRepository) SetPermit(ctx context.Context, id, permitID uuid.UUID) error {
	query := `
		UPDATE decisions
		SET permit_id = $2, status = 'posting', updated_at = NOW()
		WHERE decision_id = $1 AND status = 'permit_pending'`
	if err := r.execExpectOneRow(ctx, query, id, permitID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set permit: %w", err)
	}
	return nil
}

// MarkPosted records the platform post ID and moves posting -> posted
func (r *DecisionRepository) MarkPosted(ctx context.Context, id uuid.UUID, publishedID string) error {
	query := `
		UPDATE decisions
		SET published_id = $2, status = 'posted', posted_at = NOW(), updated_at = NOW()
		WHERE decision_id = $1 AND status = 'posting'`
	if err := r.execExpectOneRow(ctx, query, id, publishedID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark posted: %w", err)
	}
	return nil
}

// MarkFailed forces any non-terminal decision to failed with a reason.
// Terminal decisions are left untouched.
func (r *DecisionRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE decisions
		SET status = 'failed', fail_reason = $2, updated_at = NOW()
		WHERE decision_id = $1 AND status = ANY($3)`
	if err := r.execExpectOneRow(ctx, query, id, reason, nonTerminalStatuses); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrTerminalDecision
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// InsertReconciled inserts a synthetic posted decision for a ghost. The
// partial unique index on published_id makes repeated reconciliation runs
// over the same item a no-op; the bool reports whether a row was created.
func (r *DecisionRepository) InsertReconciled(ctx context.Context, targetID, publishedID string, observedAt time.Time) (bool, error) {
	query := `
		INSERT INTO decisions (decision_id, target_id, tier, score, source, published_id,
			status, created_at, updated_at, posted_at)
		VALUES ($1, $2, 0, 0, 'reconciled', $3, 'posted', NOW(), NOW(), $4)
		ON CONFLICT (published_id) WHERE published_id IS NOT NULL DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, uuid.New(), targetID, publishedID, observedAt)
	if err != nil {
		return false, fmt.Errorf("insert reconciled decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}
	return rows == 1, nil
}

// SweepTimedOut forces decisions stuck in a non-terminal status past the
/// deadline to failed with reason "timeout:<previous_status>". Returns the IDs
// of the swept decisions. Terminal and denied decisions are never touched.
func (r *DecisionRepository) SweepTimedOut(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	query := `
		UPDATE decisions
		SET status = 'failed', fail_reason = 'timeout:' || status, updated_at = NOW()
		WHERE status = ANY($1)
		  AND updated_at < NOW() - $2::interval
		RETURNING decision_id`

	rows, err := r.db.QueryContext(ctx, query, nonTerminalStatuses, olderThan.String())
	if err != nil {
		return nil, fmt.Errorf("sweep timed out decisions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan swept decision id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID retrieves a decision
func (r *DecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Decision, error) {
	var d domain.Decision
	query := `SELECT ` + decisionSelectList + ` FROM decisions WHERE decision_id = $1`

	err := r.db.GetContext(ctx, &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return &d, nil
}

// GetByPublishedID retrieves the decision linked to a platform post
func (r *DecisionRepository) GetByPublishedID(ctx context.Context, publishedID string) (*domain.Decision, error) {
	var d domain.Decision
	query := `SELECT ` + decisionSelectList + ` FROM decisions WHERE published_id = $1`

	err := r.db.GetContext(ctx, &d, query, publishedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision by published id: %w", err)
	}
	return &d, nil
}

// HasNonTerminalForTarget reports whether an in-flight decision exists for
// the target. Used by the enqueue dedup check.
func (r *DecisionRepository) HasNonTerminalForTarget(ctx context.Context, targetID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM decisions WHERE target_id = $1 AND status = ANY($2))`,
		targetID, nonTerminalStatuses)
	if err != nil {
		return false, fmt.Errorf("check non-terminal decision: %w", err)
	}
	return exists, nil
}

// CountPostedSince counts decisions posted in the trailing window (rate gate)
func (r *DecisionRepository) CountPostedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM decisions WHERE status = 'posted' AND posted_at >= $1`, since)
	if err != nil {
		return 0, fmt.Errorf("count posted decisions: %w", err)
	}
	return count, nil
}

// LastPostedAt returns the timestamp of the most recent successful post
// (min-spacing gate). Returns domain.ErrNotFound when nothing has posted yet.
func (r *DecisionRepository) LastPostedAt(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	err := r.db.GetContext(ctx, &last, `SELECT MAX(posted_at) FROM decisions WHERE status = 'posted'`)
	if err != nil {
		return time.Time{}, fmt.Errorf("get last posted at: %w", err)
	}
	if !last.Valid {
		return time.Time{}, domain.ErrNotFound
	}
	return last.Time, nil
}

// ListStalePosting returns decisions stuck in posting longer than the grace
// period, candidates for the reconciler's zombie check.
func (r *DecisionRepository) ListStalePosting(ctx context.Context, grace time.Duration) ([]domain.Decision, error) {
	query := `SELECT ` + decisionSelectList + `
		FROM decisions
		WHERE status = 'posting'
		  AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC`

	var decisions []domain.Decision
	if err := r.db.SelectContext(ctx, &decisions, query, grace.String()); err != nil {
		return nil, fmt.Errorf("list stale posting decisions: %w", err)
	}
	return decisions, nil
}

// ListRecent returns the most recent decisions for the ops API
func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	query := `SELECT ` + decisionSelectList + `
		FROM decisions
		ORDER BY created_at DESC
		LIMIT $1`

	var decisions []domain.Decision
	if err := r.db.SelectContext(ctx, &decisions, query, limit); err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	return decisions, nil
}

// Stats returns decision counts by status
func (r *DecisionRepository) Stats(ctx context.Context) (*domain.DecisionStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status IN ('template_selecting', 'generating', 'permit_pending', 'posting')) as in_flight,
			COUNT(*) FILTER (WHERE status = 'posted') as posted,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'denied') as denied,
			COUNT(*) FILTER (WHERE source = 'reconciled') as reconciled
		FROM decisions`

	var stats domain.DecisionStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.InFlight,
		&stats.Posted,
		&stats.Failed,
		&stats.Denied,
		&stats.Reconciled,
	)
	if err != nil {
		return nil, fmt.Errorf("get decision stats: %w", err)
	}
	return &stats, nil
}
