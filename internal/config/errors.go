package config

import "errors"

// Sentinel error kinds for this package; callers match them with errors.Is.
var (
	ErrLoadConfig    = errors.New("load config failed")
	ErrInvalidConfig = errors.New("invalid config")
	// ErrMissingCredential marks a setting that needs a Slack token or
	// secret the config does not carry. It always comes with ErrInvalidConfig.
	ErrMissingCredential = errors.New("missing credential")
)
