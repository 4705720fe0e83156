// Package template selects reply templates from a closed set using observed
// engagement.
package template

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// EngagementSource reports average engagement per template ID. Templates with
// no attributed posts yet are simply absent from the map.
type EngagementSource interface {
	TemplateEngagement(ctx context.Context) (map[string]float64, error)
}

// Selector picks a template for each decision. Most picks exploit the
// template with the best observed engagement; a small configured fraction
// explores a uniformly random other template so engagement data keeps
// covering the whole set.
type Selector struct {
	cfg        config.TemplatesConfig
	engagement EngagementSource
	rand       *rand.Rand
	logger     logger.Logger
}

// NewSelector creates a template selector. The rand source is injectable for
// deterministic tests; pass nil to seed from the default source.
func NewSelector(cfg config.TemplatesConfig, engagement EngagementSource, rng *rand.Rand, log logger.Logger) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Selector{
		cfg:        cfg,
		engagement: engagement,
		rand:       rng,
		logger:     log,
	}
}

// Select returns a template ID and the prompt version it was selected under
func (s *Selector) Select(ctx context.Context) (templateID, promptVersion string, err error) {
	best, err := s.bestByEngagement(ctx)
	if err != nil {
		return "", "", err
	}

	id := best
	if s.rand.Float64() < s.cfg.ExploreRate {
		id = s.explore(best)
		s.logger.Debug("exploring template",
			logger.String("template_id", id),
			logger.String("best_template_id", best),
		)
	}
	return id, s.cfg.PromptVersion, nil
}

// Fallback returns the template used for the single generation retry
func (s *Selector) Fallback() string {
	return s.cfg.FallbackID
}

// bestByEngagement returns the template with the highest average engagement.
// With no attribution data at all, the first configured template wins; ties
// resolve to the earlier template in the configured order so the result is
// stable.
func (s *Selector) bestByEngagement(ctx context.Context) (string, error) {
	scores, err := s.engagement.TemplateEngagement(ctx)
	if err != nil {
		return "", fmt.Errorf("load template engagement: %w", err)
	}

	best := s.cfg.IDs[0]
	bestScore := scores[best]
	for _, id := range s.cfg.IDs[1:] {
		if scores[id] > bestScore {
			best = id
			bestScore = scores[id]
		}
	}
	return best, nil
}

// explore picks a uniformly random template other than the exploit choice.
// With a single-template set there is nothing else to explore.
func (s *Selector) explore(exclude string) string {
	others := make([]string, 0, len(s.cfg.IDs))
	for _, id := range s.cfg.IDs {
		if id != exclude {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return exclude
	}
	return others[s.rand.Intn(len(others))]
}
