// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Flat snake_case keys shared by YAML files and SPOTTED_* env vars.
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - Durations are configured in milliseconds and read through accessors.
package config

import (
	"runtime"
	"time"
)

// Transports the bot can receive Slack events over.
const (
	TransportHTTP   = "http"
	TransportSocket = "socket"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Transport is how Slack events arrive: http (Events API webhook) or
	// socket (Socket Mode websocket).
	Transport string `koanf:"transport"`

	SlackBotToken      string  `koanf:"slack_bot_token"`
	SlackAppToken      string  `koanf:"slack_app_token"`
	SlackSigningSecret string  `koanf:"slack_signing_secret"`
	SlackAPIURL        string  `koanf:"slack_api_url"`
	SlackRPS           float64 `koanf:"slack_rps"`
	SlackBurst         int     `koanf:"slack_burst"`

	// ChannelID restricts spot detection to one channel when set.
	ChannelID string `koanf:"channel_id"`
	// BotUserID is the bot's own user id; its messages are ignored.
	BotUserID string `koanf:"bot_user_id"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize and DedupeTTLMS bound the processed-event set.
	DedupeSize  int `koanf:"dedupe_size"`
	DedupeTTLMS int `koanf:"dedupe_ttl_ms"`

	// AttachmentWaitMS is the delay before re-fetching an attachment-less message.
	AttachmentWaitMS int `koanf:"attachment_wait_ms"`

	ScoreRetryAttempts int `koanf:"score_retry_attempts"`
	ScoreRetryBaseMS   int `koanf:"score_retry_base_ms"`
	ScoreRetryMaxMS    int `koanf:"score_retry_max_ms"`

	// StoreDriver is memory, sqlite or postgres; StoreDSN its data source.
	StoreDriver string `koanf:"store_driver"`
	StoreDSN    string `koanf:"store_dsn"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// NotifyEnabled posts a thread reply for every scored spot.
	NotifyEnabled bool `koanf:"notify_enabled"`

	// DigestSchedule is a cron expression (or daily/weekly) for posting the
	// leaderboard to ChannelID. Empty disables the digest.
	DigestSchedule string `koanf:"digest_schedule"`
	DigestSize     int    `koanf:"digest_size"`

	// AdminToken enables the /admin routes. Empty disables them.
	AdminToken string `koanf:"admin_token"`

	FailedLedgerSize int `koanf:"failed_ledger_size"`

	// OTelEndpoint is the OTLP/gRPC collector address. Empty disables tracing.
	OTelEndpoint string `koanf:"otel_endpoint"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":3000",
		Transport:           TransportHTTP,
		SlackAPIURL:         "https://slack.com/api",
		SlackRPS:            1,
		SlackBurst:          5,
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU() * 4,
		DedupeSize:          50_000,
		DedupeTTLMS:         int((15 * time.Minute).Milliseconds()),
		AttachmentWaitMS:    2000,
		ScoreRetryAttempts:  4,
		ScoreRetryBaseMS:    200,
		ScoreRetryMaxMS:     5000,
		StoreDriver:         DriverSQLite,
		StoreDSN:            "spotted.db",
		MaxLeaderboardLimit: 100,
		NotifyEnabled:       false,
		DigestSize:          10,
		FailedLedgerSize:    1000,
	}
}

// DedupeTTL returns the processed-event retention.
func (c *Config) DedupeTTL() time.Duration { return ms(c.DedupeTTLMS) }

// AttachmentWait returns the attachment re-fetch delay.
func (c *Config) AttachmentWait() time.Duration { return ms(c.AttachmentWaitMS) }

// ScoreRetryBase returns the first retry backoff.
func (c *Config) ScoreRetryBase() time.Duration { return ms(c.ScoreRetryBaseMS) }

// ScoreRetryMax returns the backoff cap.
func (c *Config) ScoreRetryMax() time.Duration { return ms(c.ScoreRetryMaxMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
