package model

import "time"

// Reason explains a classifier verdict.
type Reason string

const (
	ReasonNoImage   Reason = "no_image"
	ReasonNoMention Reason = "no_mention"
	ReasonSelfOnly  Reason = "self_only"
	ReasonOK        Reason = "ok"
	ReasonDuplicate Reason = "duplicate"
)

// SpotVerdict is the classifier's decision for one event.
// TargetIDs is sorted and non-empty iff IsSpot.
type SpotVerdict struct {
	EventID   string
	IsSpot    bool
	ActorID   string
	TargetIDs []string
	Reason    Reason
}

// ScoreDelta is one ledger entry produced from a verdict.
type ScoreDelta struct {
	UserID string `json:"user_id"`
	Delta  int64  `json:"delta"`
}

// UserScore is a persisted leaderboard row.
type UserScore struct {
	UserID      string
	DisplayName string
	Score       int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FailedEvent records a confirmed spot whose deltas were not all written.
// Pending holds only the deltas still owed; Applied the ones that landed.
type FailedEvent struct {
	EventID   string       `json:"event_id"`
	ChannelID string       `json:"channel_id"`
	MessageTS string       `json:"message_ts"`
	ActorID   string       `json:"actor_id"`
	Pending   []ScoreDelta `json:"pending"`
	Applied   []ScoreDelta `json:"applied"`
	Error     string       `json:"error"`
	FailedAt  time.Time    `json:"failed_at"`
}
