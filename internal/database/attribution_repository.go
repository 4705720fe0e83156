package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// AttributionRepository manages per-post engagement attribution in
// PostgreSQL. The aggregates feed template expected-value selection.
type AttributionRepository struct {
	db *sqlx.DB
}

// NewAttributionRepository creates a new repository
func NewAttributionRepository(db *sqlx.DB) *AttributionRepository {
	return &AttributionRepository{db: db}
}

// Upsert records or refreshes attribution for a published post
func (r *AttributionRepository) Upsert(ctx context.Context, a *domain.PostAttribution) error {
	query := `
		INSERT INTO post_attribution (published_id, decision_id, template_id, topic,
			engagement_rate, impressions, followers_gained, posted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (published_id) DO UPDATE SET
			engagement_rate = EXCLUDED.engagement_rate,
			impressions = EXCLUDED.impressions,
			followers_gained = EXCLUDED.followers_gained,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		a.PublishedID, a.DecisionID, a.TemplateID, a.Topic,
		a.EngagementRate, a.Impressions, a.FollowersGained, a.PostedAt)
	if err != nil {
		return fmt.Errorf("upsert attribution: %w", err)
	}
	return nil
}

// TemplateEngagement returns the average engagement rate per template,
// the expected-value signal for the exploit side of template selection.
func (r *AttributionRepository) TemplateEngagement(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT template_id, AVG(engagement_rate)
		FROM post_attribution
		GROUP BY template_id`)
	if err != nil {
		return nil, fmt.Errorf("get template engagement: %w", err)
	}
	defer rows.Close()

	engagement := make(map[string]float64)
	for rows.Next() {
		var templateID string
		var rate float64
		if scanErr := rows.Scan(&templateID, &rate); scanErr != nil {
			return nil, fmt.Errorf("scan template engagement: %w", scanErr)
		}
		engagement[templateID] = rate
	}
	return engagement, rows.Err()
}
