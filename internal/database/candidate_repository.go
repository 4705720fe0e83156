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

// candidateSelectList is the column list for SELECT/RETURNING on candidates
// (single source for schema changes)
const candidateSelectList = `id, source_feed, target_id, author, text_excerpt,
			raw_score, tier, status, enqueued_at, expires_at, claimed_at`

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// CandidateRepository manages the tiered candidate queue in PostgreSQL
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository creates a new repository
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// Insert persists a new queued candidate. A partial unique index on target_id
// WHERE status = 'queued' rejects a target that is already queued.
func (r *CandidateRepository) Insert(ctx context.Context, c *domain.Candidate) error {
	query := `
		INSERT INTO candidates (id, source_feed, target_id, author, text_excerpt,
			raw_score, tier, status, enqueued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.SourceFeed, c.TargetID, c.Author, c.TextExcerpt,
		c.RawScore, c.Tier, c.Status, c.EnqueuedAt, c.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// ClaimBest atomically claims the best eligible candidate with tier <= maxTier:
// highest tier first, then highest score, ties broken by earliest enqueued_at.
// Uses FOR UPDATE SKIP LOCKED so only one concurrent caller can claim a given
// row. Returns domain.ErrNoCandidates when nothing is eligible.
func (r *CandidateRepository) ClaimBest(ctx context.Context, maxTier int) (*domain.Candidate, error) {
	query := `
		UPDATE candidates
		SET status = 'claimed', claimed_at = NOW()
		WHERE id = (
			SELECT id FROM candidates
			WHERE status = 'queued'
			  AND expires_at > NOW()
			  AND tier <= $1
			ORDER BY tier ASC, raw_score DESC, enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + candidateSelectList

	var c domain.Candidate
	err := r.db.QueryRowxContext(ctx, query, maxTier).StructScan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCandidates
	}
	if err != nil {
		return nil, fmt.Errorf("claim best candidate: %w", err)
	}
	return &c, nil
}

// SweepExpired marks all queued candidates past their expiry as expired.
// Runs before every claim attempt so staleness cannot leak into scheduling.
func (r *CandidateRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE candidates
		SET status = 'expired'
		WHERE status = 'queued'
		  AND expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sweep expired candidates: %w", err)
	}
	return result.RowsAffected()
}

// Discard marks a claimed candidate as discarded, used when a claim could not
// be turned into a decision.
func (r *CandidateRepository) Discard(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE candidates SET status = 'discarded' WHERE id = $1 AND status = 'claimed'`, id)
	if err != nil {
		return fmt.Errorf("discard candidate: %w", err)
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

// GetByID retrieves a single candidate
func (r *CandidateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	var c domain.Candidate
	query := `SELECT ` + candidateSelectList + ` FROM candidates WHERE id = $1`

	err := r.db.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return &c, nil
}

// TargetQueued reports whether a not-expired queued candidate exists for the target
func (r *CandidateRepository) TargetQueued(ctx context.Context, targetID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM candidates
			WHERE target_id = $1 AND status = 'queued' AND expires_at > NOW()
		)`, targetID)
	if err != nil {
		return false, fmt.Errorf("check queued target: %w", err)
	}
	return exists, nil
}

// Stats returns candidate queue statistics
func (r *CandidateRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued' AND expires_at > NOW()) as queued,
			COUNT(*) FILTER (WHERE status = 'claimed') as claimed,
			COUNT(*) FILTER (WHERE status = 'expired') as expired,
			COUNT(*) FILTER (WHERE status = 'discarded') as discarded,
			COUNT(*) FILTER (WHERE status = 'queued' AND expires_at > NOW() AND tier = 1) as top_tier
		FROM candidates`

	var stats domain.QueueStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Queued,
		&stats.Claimed,
		&stats.Expired,
		&stats.Discarded,
		&stats.TopTier,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// ArchiveExpired removes expired and discarded candidates older than the
// retention window. TTL-based archival is the only delete path.
func (r *CandidateRepository) ArchiveExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM candidates
		WHERE status IN ('expired', 'discarded')
		  AND expires_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("archive expired candidates: %w", err)
	}
	return result.RowsAffected()
}
