package domain

import (
	"time"

	"github.com/google/uuid"
)

// Slot miss reasons recorded when a scheduling tick does not post.
// queue_empty, rate_limit, budget and min_spacing are expected outcomes;
// anything else indicates a failure inside the tick.
const (
	MissReasonQueueEmpty = "queue_empty"
	MissReasonRateLimit  = "rate_limit"
	MissReasonBudget     = "budget"
	MissReasonMinSpacing = "min_spacing"
	MissReasonGeneration = "generation_failed"
	MissReasonPermit     = "permit_conflict"
	MissReasonPublish    = "publish_failed"
)

// SlotEvent is the audit record for one scheduling tick. The miss rate over a
// window of slot events is the service-level indicator for the agent.
type SlotEvent struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	SlotTime   time.Time  `db:"slot_time"   json:"slot_time"`
	Posted     bool       `db:"posted"      json:"posted"`
	MissReason *string    `db:"miss_reason" json:"miss_reason,omitempty"`
	DecisionID *uuid.UUID `db:"decision_id" json:"decision_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}

// NewSlotMiss records a tick that produced no post
func NewSlotMiss(slotTime time.Time, reason string) *SlotEvent {
	return &SlotEvent{
		ID:         uuid.New(),
		SlotTime:   slotTime,
		Posted:     false,
		MissReason: &reason,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewSlotPost records a tick that published a decision
func NewSlotPost(slotTime time.Time, decisionID uuid.UUID) *SlotEvent {
	return &SlotEvent{
		ID:         uuid.New(),
		SlotTime:   slotTime,
		Posted:     true,
		DecisionID: &decisionID,
		CreatedAt:  time.Now().UTC(),
	}
}

// SlotStats aggregates slot outcomes over a reporting window
type SlotStats struct {
	Total         int64            `json:"total"`
	Posted        int64            `json:"posted"`
	Missed        int64            `json:"missed"`
	MissRate      float64          `json:"miss_rate"`
	MissedByCause map[string]int64 `json:"missed_by_cause"`
}

// PublishedRecord is an externally observed published item. A nil DecisionID
// means the item was seen on the platform with no matching internal decision
// (a ghost) until the reconciler links or synthesizes one.
type PublishedRecord struct {
	PublishedID string     `db:"published_id" json:"published_id"`
	TargetID    string     `db:"target_id"    json:"target_id"`
	DecisionID  *uuid.UUID `db:"decision_id"  json:"decision_id,omitempty"`
	ObservedAt  time.Time  `db:"observed_at"  json:"observed_at"`
	FirstSeenAt time.Time  `db:"first_seen_at" json:"first_seen_at"`
}

// PostAttribution holds per-post engagement attribution, used to estimate
// template expected value for the exploit/explore template split.
type PostAttribution struct {
	PublishedID     string    `db:"published_id"     json:"published_id"`
	DecisionID      uuid.UUID `db:"decision_id"      json:"decision_id"`
	TemplateID      string    `db:"template_id"      json:"template_id"`
	Topic           string    `db:"topic"            json:"topic"`
	EngagementRate  float64   `db:"engagement_rate"  json:"engagement_rate"`
	Impressions     int64     `db:"impressions"      json:"impressions"`
	FollowersGained int64     `db:"followers_gained" json:"followers_gained"`
	PostedAt        time.Time `db:"posted_at"        json:"posted_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// BudgetEntry is one ledger row. Positive amounts reserve spend, negative
// amounts release a reservation that incurred no external cost.
type BudgetEntry struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	AmountCents int64      `db:"amount_cents" json:"amount_cents"`
	DecisionID  *uuid.UUID `db:"decision_id"  json:"decision_id,omitempty"`
	Note        string     `db:"note"         json:"note"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
}
