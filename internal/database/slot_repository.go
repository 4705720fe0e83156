package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// SlotEventRepository manages the scheduling audit log in PostgreSQL
type SlotEventRepository struct {
	db *sqlx.DB
}

// NewSlotEventRepository creates a new repository
func NewSlotEventRepository(db *sqlx.DB) *SlotEventRepository {
	return &SlotEventRepository{db: db}
}

// Insert appends one slot event. Exactly one event is recorded per
// scheduling tick, posted or missed.
func (r *SlotEventRepository) Insert(ctx context.Context, e *domain.SlotEvent) error {
	query := `
		INSERT INTO slot_events (id, slot_time, posted, miss_reason, decision_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.SlotTime, e.Posted, e.MissReason, e.DecisionID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert slot event: %w", err)
	}
	return nil
}

// ListRecent returns the most recent slot events
func (r *SlotEventRepository) ListRecent(ctx context.Context, limit int) ([]domain.SlotEvent, error) {
	query := `
		SELECT id, slot_time, posted, miss_reason, decision_id, created_at
		FROM slot_events
		ORDER BY slot_time DESC
		LIMIT $1`

	var events []domain.SlotEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list slot events: %w", err)
	}
	return events, nil
}

// StatsSince aggregates slot outcomes since the given time, including the
// service-level miss rate and a per-cause miss breakdown.
func (r *SlotEventRepository) StatsSince(ctx context.Context, since time.Time) (*domain.SlotStats, error) {
	var stats domain.SlotStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE posted) as posted,
			COUNT(*) FILTER (WHERE NOT posted) as missed
		FROM slot_events
		WHERE slot_time >= $1`, since).Scan(&stats.Total, &stats.Posted, &stats.Missed)
	if err != nil {
		return nil, fmt.Errorf("get slot stats: %w", err)
	}
	if stats.Total > 0 {
		stats.MissRate = float64(stats.Missed) / float64(stats.Total)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT miss_reason, COUNT(*)
		FROM slot_events
		WHERE slot_time >= $1 AND NOT posted AND miss_reason IS NOT NULL
		GROUP BY miss_reason`, since)
	if err != nil {
		return nil, fmt.Errorf("get miss breakdown: %w", err)
	}
	defer rows.Close()

	stats.MissedByCause = make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if scanErr := rows.Scan(&reason, &count); scanErr != nil {
			return nil, fmt.Errorf("scan miss breakdown: %w", scanErr)
		}
		stats.MissedByCause[reason] = count
	}
	return &stats, rows.Err()
}
