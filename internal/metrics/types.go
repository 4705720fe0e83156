package metrics

import "time"

// RecentPost is one recently published reply for the ops dashboard
type RecentPost struct {
	PublishedID string    `json:"published_id"`
	DecisionID  string    `json:"decision_id"`
	TargetID    string    `json:"target_id"`
	TemplateID  string    `json:"template_id"`
	PostedAt    time.Time `json:"posted_at"`
}

// Stats holds the counters tracked in Redis
type Stats struct {
	Posted   int64            `json:"posted"`
	Missed   int64            `json:"missed"`
	ByReason map[string]int64 `json:"missed_by_reason"`
	LastTick time.Time        `json:"last_tick"`
}
