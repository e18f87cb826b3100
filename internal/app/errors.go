package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted        = errors.New("service not started")
	ErrFailedEventAbsent = errors.New("failed event not found")
	ErrReplayInProgress  = errors.New("replay already in progress")
	ErrInvalidDelta      = errors.New("invalid score delta")
)
