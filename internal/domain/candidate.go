// Package domain contains the core domain models for the reply agent.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CandidateStatus represents the state of a queued candidate
type CandidateStatus string

const (
	CandidateStatusQueued    CandidateStatus = "queued"
	CandidateStatusClaimed   CandidateStatus = "claimed"
	CandidateStatusExpired   CandidateStatus = "expired"
	CandidateStatusDiscarded CandidateStatus = "discarded"
)

// Candidate is a prospective reply target awaiting scheduling.
// A candidate is owned by the queue until claimed, at which point the
// resulting Decision takes over.
type Candidate struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	SourceFeed  string          `db:"source_feed"  json:"source_feed"`
	TargetID    string          `db:"target_id"    json:"target_id"`
	Author      string          `db:"author"       json:"author"`
	TextExcerpt string          `db:"text_excerpt" json:"text_excerpt"`
	RawScore    float64         `db:"raw_score"    json:"raw_score"`
	Tier        int             `db:"tier"         json:"tier"`
	Status      CandidateStatus `db:"status"       json:"status"`
	EnqueuedAt  time.Time       `db:"enqueued_at"  json:"enqueued_at"`
	ExpiresAt   time.Time       `db:"expires_at"   json:"expires_at"`
	ClaimedAt   *time.Time      `db:"claimed_at"   json:"claimed_at,omitempty"`
}

// Candidate tiers. Tier 1 is the scarcest, highest-priority bucket.
const (
	TierTop    = 1
	TierMid    = 2
	TierBottom = 3
)

// NewCandidate creates a queued candidate with validation.
// Tier and expiry are assigned by the queue at enqueue time.
func NewCandidate(sourceFeed, targetID, author, excerpt string, rawScore float64) (*Candidate, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: target_id is required", ErrInvalidCandidate)
	}
	if sourceFeed == "" {
		return nil, fmt.Errorf("%w: source_feed is required", ErrInvalidCandidate)
	}
	if rawScore < 0 {
		return nil, fmt.Errorf("%w: raw_score must be non-negative, got %v", ErrInvalidCandidate, rawScore)
	}

	return &Candidate{
		ID:          uuid.New(),
		SourceFeed:  sourceFeed,
		TargetID:    targetID,
		Author:      author,
		TextExcerpt: excerpt,
		RawScore:    rawScore,
		Status:      CandidateStatusQueued,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// IsExpired reports whether the candidate is past its expiry at the given time
func (c *Candidate) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// QueueStats holds candidate queue statistics for monitoring
type QueueStats struct {
	Queued    int64 `json:"queued"`
	Claimed   int64 `json:"claimed"`
	Expired   int64 `json:"expired"`
	Discarded int64 `json:"discarded"`
	TopTier   int64 `json:"top_tier_queued"`
}
