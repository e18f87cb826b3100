package repository

import "context"

// Truncate empties the leaderboard table between test cases.
func Truncate(ctx context.Context, s *SQLStore) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leaderboard`)
	return err
}
