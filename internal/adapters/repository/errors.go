package repository

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound      = errors.New("user not found")
	ErrInvalidLimit  = errors.New("invalid leaderboard limit")
	ErrInvalidUser   = errors.New("invalid user id")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrClosed        = errors.New("store closed")
)
