// Package repository defines the score store interface and its in-memory
// and SQL implementations.
package repository

import (
	"context"

	"github.com/okian/spotted/internal/domain/model"
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank        int
	UserID      string
	DisplayName string
	Score       int64
}

// Store provides read/write access to the leaderboard.
type Store interface {
	// UpsertDelta atomically adds delta to the user's score, creating the
	// row at zero first when the user is unknown. An empty displayName
	// leaves the stored name unchanged.
	UpsertDelta(ctx context.Context, userID, displayName string, delta int64) (model.UserScore, error)

	// SetScore overwrites a user's score. Administrative use only; it
	// bypasses the scoring engine.
	SetScore(ctx context.Context, userID, displayName string, score int64) (model.UserScore, error)

	// GetScore returns the stored row. Returns ErrNotFound for unknown users.
	GetScore(ctx context.Context, userID string) (model.UserScore, error)

	// Rank returns the current rank and score for a user.
	// Returns ErrNotFound if the user is unknown.
	Rank(ctx context.Context, userID string) (Entry, error)

	// TopN returns the top-N entries ordered by score desc, user id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of users on the leaderboard.
	Count(ctx context.Context) (int, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// assignRanksWithTies assigns dense ranks to entries already sorted by
// score desc: equal scores share a rank and the next score takes rank+1.
// It is only correct for a slice that starts at the top of the board.
func assignRanksWithTies(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
