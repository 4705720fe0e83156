// Package telemetry exposes Prometheus metrics for the reply agent.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// Telemetry holds the agent's Prometheus collectors. Construct one per
// process with its own registry so tests never collide on registration.
type Telemetry struct {
	registry *prometheus.Registry

	slotsTotal           *prometheus.CounterVec
	decisionsTotal       *prometheus.CounterVec
	publishDuration      prometheus.Histogram
	queueDepth           prometheus.Gauge
	permitConflictsTotal prometheus.Counter
	ghostsTotal          prometheus.Counter
	zombiesTotal         prometheus.Counter
	budgetRemainingCents prometheus.Gauge
}

// New creates the agent's metric set on a fresh registry
func New() *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Telemetry{
		registry: registry,
		slotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_agent_slots_total",
			Help: "Slot ticks by outcome (posted or miss reason).",
		}, []string{"outcome"}),
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_agent_decisions_total",
			Help: "Decisions reaching a terminal status.",
		}, []string{"status"}),
		publishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reply_agent_publish_duration_seconds",
			Help:    "Wall time of the publish call.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reply_agent_queue_depth",
			Help: "Candidates currently queued.",
		}),
		permitConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_agent_permit_conflicts_total",
			Help: "Permit acquisitions rejected by the uniqueness constraint.",
		}),
		ghostsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_agent_reconciled_ghosts_total",
			Help: "External posts found with no internal decision.",
		}),
		zombiesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_agent_reconciled_zombies_total",
			Help: "Stale posting decisions re-verified against the platform.",
		}),
		budgetRemainingCents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reply_agent_budget_remaining_cents",
			Help: "Budget left in the current accounting period.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordSlot counts one slot outcome. Satisfies the scheduler's Tracker.
func (t *Telemetry) RecordSlot(ctx context.Context, e *domain.SlotEvent) {
	outcome := "posted"
	if !e.Posted {
		outcome = "unknown"
		if e.MissReason != nil {
			outcome = *e.MissReason
		}
		if e.MissReason != nil && *e.MissReason == domain.MissReasonPermit {
			t.permitConflictsTotal.Inc()
		}
	}
	t.slotsTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision counts a decision reaching a terminal status
func (t *Telemetry) RecordDecision(status domain.DecisionStatus) {
	t.decisionsTotal.WithLabelValues(string(status)).Inc()
}

// ObservePublish records the duration of one publish call in seconds
func (t *Telemetry) ObservePublish(seconds float64) {
	t.publishDuration.Observe(seconds)
}

// SetQueueDepth updates the queued candidate gauge
func (t *Telemetry) SetQueueDepth(depth int64) {
	t.queueDepth.Set(float64(depth))
}

// SetBudgetRemaining updates the remaining budget gauge
func (t *Telemetry) SetBudgetRemaining(cents int64) {
	t.budgetRemainingCents.Set(float64(cents))
}

// AddGhosts counts ghosts synthesized in a reconciliation sweep
func (t *Telemetry) AddGhosts(n int) {
	t.ghostsTotal.Add(float64(n))
}

// AddZombies counts zombies re-verified in a reconciliation sweep
func (t *Telemetry) AddZombies(n int) {
	t.zombiesTotal.Add(float64(n))
}
