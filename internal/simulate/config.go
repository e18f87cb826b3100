// Package simulate drives a running bot with synthetic, signed Slack event
// callbacks and checks the resulting leaderboard against the expected scores.
package simulate

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultUsers       = 20
	DefaultMessages    = 500
	DefaultSpotRatio   = 0.8
	DefaultDuplicates  = 0.1
	DefaultMaxTargets  = 3
	DefaultTimeout     = 10 * time.Second
	DefaultSettle      = 3 * time.Second
	DefaultChannel     = "CSPOTTED"
	defaultWorkerCount = 8
)

// ErrMismatch is returned when the leaderboard disagrees with the expected scores.
var ErrMismatch = errors.New("leaderboard mismatch")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL       string        // bot base URL
	SigningSecret string        // signs requests when set
	Channel       string        // spotted channel the bot watches
	Users         int           // size of the synthetic user population
	Messages      int           // number of distinct messages
	SpotRatio     float64       // share of messages that are spots
	Duplicates    float64       // share of messages delivered twice
	MaxTargets    int           // upper bound of mentions per spot
	Workers       int           // concurrent submitters
	Timeout       time.Duration // per request
	Settle        time.Duration // wait before reading the leaderboard
	Seed          uint64        // 0 picks a random seed
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Channel == "" {
		out.Channel = DefaultChannel
	}
	if out.Users < 2 {
		out.Users = DefaultUsers
	}
	if out.Messages <= 0 {
		out.Messages = DefaultMessages
	}
	if out.SpotRatio <= 0 || out.SpotRatio > 1 {
		out.SpotRatio = DefaultSpotRatio
	}
	if out.Duplicates < 0 || out.Duplicates > 1 {
		out.Duplicates = DefaultDuplicates
	}
	if out.MaxTargets <= 0 {
		out.MaxTargets = DefaultMaxTargets
	}
	if out.MaxTargets > out.Users-1 {
		out.MaxTargets = out.Users - 1
	}
	if out.Workers <= 0 {
		out.Workers = defaultWorkerCount
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Settle < 0 {
		out.Settle = 0
	}
	return out
}

// Report summarises a run.
type Report struct {
	Messages   int
	Spots      int
	Deliveries int
	Accepted   int
	Throttled  int
	Failed     int
	Checked    int
	Mismatches []Mismatch
	Duration   time.Duration
}

// Mismatch is one user whose leaderboard score differs from the expected one.
type Mismatch struct {
	UserID   string
	Expected int64
	Got      int64
}
