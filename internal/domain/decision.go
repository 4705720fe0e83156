package domain

import (
	"time"

	"github.com/google/uuid"
)

// DecisionStatus represents the lifecycle state of a decision
type DecisionStatus string

const (
	DecisionStatusPending           DecisionStatus = "pending"
	DecisionStatusTemplateSelecting DecisionStatus = "template_selecting"
	DecisionStatusGenerating        DecisionStatus = "generating"
	DecisionStatusPermitPending     DecisionStatus = "permit_pending"
	DecisionStatusPosting           DecisionStatus = "posting"
	DecisionStatusPosted            DecisionStatus = "posted"
	DecisionStatusFailed            DecisionStatus = "failed"
	DecisionStatusDenied            DecisionStatus = "denied"
)

// IsTerminal reports whether the status is final. Terminal decisions are
// immutable and never touched by the watchdog.
func (s DecisionStatus) IsTerminal() bool {
	switch s {
	case DecisionStatusPosted, DecisionStatusFailed, DecisionStatusDenied:
		return true
	default:
		return false
	}
}

// Decision sources. Reconciled decisions are synthesized from externally
// observed posts that have no internal record (ghosts).
const (
	DecisionSourceScheduler  = "scheduler"
	DecisionSourceReconciled = "reconciled"
)

// Decision is the unit of work representing one attempt to act on a
// candidate, from admission through publish. DecisionID is the idempotency
// key across all downstream systems.
type Decision struct {
	DecisionID    uuid.UUID      `db:"decision_id"    json:"decision_id"`
	CandidateID   *uuid.UUID     `db:"candidate_id"   json:"candidate_id,omitempty"`
	TargetID      string         `db:"target_id"      json:"target_id"`
	Tier          int            `db:"tier"           json:"tier"`
	Score         float64        `db:"score"          json:"score"`
	Source        string         `db:"source"         json:"source"`
	TemplateID    *string        `db:"template_id"    json:"template_id,omitempty"`
	PromptVersion *string        `db:"prompt_version" json:"prompt_version,omitempty"`
	Content       *string        `db:"content"        json:"content,omitempty"`
	PermitID      *uuid.UUID     `db:"permit_id"      json:"permit_id,omitempty"`
	PublishedID   *string        `db:"published_id"   json:"published_id,omitempty"`
	Status        DecisionStatus `db:"status"         json:"status"`
	FailReason    *string        `db:"fail_reason"    json:"fail_reason,omitempty"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"     json:"updated_at"`
	PostedAt      *time.Time     `db:"posted_at"      json:"posted_at,omitempty"`
}

// NewDecision creates a pending decision from a claimed candidate
func NewDecision(candidate *Candidate) *Decision {
	now := time.Now().UTC()
	candidateID := candidate.ID
	return &Decision{
		DecisionID:  uuid.New(),
		CandidateID: &candidateID,
		TargetID:    candidate.TargetID,
		Tier:        candidate.Tier,
		Score:       candidate.RawScore,
		Source:      DecisionSourceScheduler,
		Status:      DecisionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// DecisionStats holds decision counts by status for monitoring
type DecisionStats struct {
	Pending    int64 `json:"pending"`
	InFlight   int64 `json:"in_flight"`
	Posted     int64 `json:"posted"`
	Failed     int64 `json:"failed"`
	Denied     int64 `json:"denied"`
	Reconciled int64 `json:"reconciled"`
}

// DecisionOverride is the audit record for a manual bypass. Every override is
// a row tied to the decision (and permit, if any) it touched; there are no
// global force flags.
type DecisionOverride struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	DecisionID uuid.UUID  `db:"decision_id" json:"decision_id"`
	PermitID   *uuid.UUID `db:"permit_id"   json:"permit_id,omitempty"`
	Actor      string     `db:"actor"       json:"actor"`
	Reason     string     `db:"reason"      json:"reason"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}
