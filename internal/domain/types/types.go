// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Score       int64  `json:"score"`
}

// Health reports the state of the external dependencies.
type Health struct {
	SlackConfigured bool `json:"slack_configured"`
	StoreConnected  bool `json:"store_connected"`
}
