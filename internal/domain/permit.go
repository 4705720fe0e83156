package domain

import (
	"time"

	"github.com/google/uuid"
)

// PermitState represents the state of a posting permit.
// Transitions are monotonic: pending -> approved -> used. A permit in
// pending or approved may instead move to revoked, which frees the
// decision for a fresh permit. A used permit never changes again.
type PermitState string

const (
	PermitStatePending  PermitState = "pending"
	PermitStateApproved PermitState = "approved"
	PermitStateUsed     PermitState = "used"
	PermitStateRevoked  PermitState = "revoked"
)

// Permit is the single-use authorization token gating the irreversible
// publish action. At most one non-revoked permit exists per decision, and at
// most one permit per decision ever reaches used.
type Permit struct {
	PermitID     uuid.UUID   `db:"permit_id"     json:"permit_id"`
	DecisionID   uuid.UUID   `db:"decision_id"   json:"decision_id"`
	State        PermitState `db:"state"         json:"state"`
	PublishedID  *string     `db:"published_id"  json:"published_id,omitempty"`
	RevokeReason *string     `db:"revoke_reason" json:"revoke_reason,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
	ApprovedAt   *time.Time  `db:"approved_at"   json:"approved_at,omitempty"`
	UsedAt       *time.Time  `db:"used_at"       json:"used_at,omitempty"`
	RevokedAt    *time.Time  `db:"revoked_at"    json:"revoked_at,omitempty"`
}

// NewPermit creates a pending permit for a decision
func NewPermit(decisionID uuid.UUID) *Permit {
	return &Permit{
		PermitID:   uuid.New(),
		DecisionID: decisionID,
		State:      PermitStatePending,
		CreatedAt:  time.Now().UTC(),
	}
}
