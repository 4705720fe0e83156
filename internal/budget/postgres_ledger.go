package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// PostgresLedger is the durable Ledger implementation
type PostgresLedger struct {
	db *sqlx.DB
}

// reserveLockKey is the advisory lock key that serializes Reserve
// transactions across all agent processes sharing the database.
const reserveLockKey int64 = 0x42554447 // "BUDG"

// NewPostgresLedger creates a ledger over the budget_ledger table
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Reserve appends the entry only if the period total stays within the limit.
// The spend check and the append run in one transaction under an advisory
// lock, so two concurrent reservations cannot both read a pre-insert sum
// and over-admit past the limit.
func (l *PostgresLedger) Reserve(ctx context.Context, entry *domain.BudgetEntry, since time.Time, limit int64) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, reserveLockKey); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}

	var spent int64
	err = tx.GetContext(ctx, &spent,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM budget_ledger WHERE created_at >= $1`, since)
	if err != nil {
		return fmt.Errorf("sum ledger: %w", err)
	}
	if spent+entry.AmountCents > limit {
		return domain.ErrBudgetExhausted
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO budget_ledger (id, amount_cents, decision_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.AmountCents, entry.DecisionID, entry.Note, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("reserve ledger entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}
	return nil
}

// Append unconditionally appends an entry (releases)
func (l *PostgresLedger) Append(ctx context.Context, entry *domain.BudgetEntry) error {
	query := `
		INSERT INTO budget_ledger (id, amount_cents, decision_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.AmountCents, entry.DecisionID, entry.Note, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// SpentSince sums the ledger over the trailing window
func (l *PostgresLedger) SpentSince(ctx context.Context, since time.Time) (int64, error) {
	var spent int64
	err := l.db.GetContext(ctx, &spent,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM budget_ledger WHERE created_at >= $1`, since)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return spent, nil
}
