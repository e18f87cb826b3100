package slack

import "errors"

// Sentinel kinds for Slack adapter errors.
var (
	ErrAPI             = errors.New("slack api error")
	ErrMessageNotFound = errors.New("slack message not found")
	ErrBadSignature    = errors.New("invalid slack signature")
	ErrStaleRequest    = errors.New("stale slack request")
	ErrBadPayload      = errors.New("malformed slack payload")
	ErrNoAppToken      = errors.New("socket mode requires an app token")
)
