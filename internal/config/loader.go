package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/spotted/internal/digest"
)

// Environment variables read directly by the loader.
const (
	EnvPrefix  = "SPOTTED_"
	EnvConfig  = "SPOTTED_CONFIG"
	EnvDotFile = "SPOTTED_ENV_FILE"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SPOTTED_CONFIG is set
//  3. env (prefix SPOTTED_), after loading a .env file into the process
//     environment without overriding variables that are already set
func Load(_ context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Map env keys like SPOTTED_QUEUE_SIZE -> queue_size (flat keys).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv reads SPOTTED_ENV_FILE (default .env). A missing file is fine.
func loadDotEnv() error {
	path := os.Getenv(EnvDotFile)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.Transport != TransportHTTP && c.Transport != TransportSocket:
		return invalid("unknown transport %q", c.Transport)
	case c.Transport == TransportSocket && c.SlackAppToken == "":
		return fmt.Errorf("%w: %w: socket transport requires slack_app_token", ErrInvalidConfig, ErrMissingCredential)
	case c.Transport == TransportHTTP && c.SlackSigningSecret == "":
		return fmt.Errorf("%w: %w: http transport requires slack_signing_secret", ErrInvalidConfig, ErrMissingCredential)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("unknown log_format %q", c.LogFormat)
	case c.EventQueueSize < 1:
		return invalid("queue_size must be positive")
	case c.WorkerCount < 1:
		return invalid("worker_count must be positive")
	case c.DedupeSize < 1 || c.DedupeTTLMS < 1:
		return invalid("dedupe_size and dedupe_ttl_ms must be positive")
	case c.AttachmentWaitMS < 0:
		return invalid("attachment_wait_ms must not be negative")
	case c.ScoreRetryAttempts < 1:
		return invalid("score_retry_attempts must be at least 1")
	case c.MaxLeaderboardLimit < 1:
		return invalid("max_leaderboard_limit must be positive")
	case c.DigestSchedule != "" && c.ChannelID == "":
		return invalid("digest_schedule requires channel_id")
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN == "" {
			return invalid("store_driver %s requires store_dsn", c.StoreDriver)
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}

	if c.DigestSchedule != "" {
		if err := digest.Validate(c.DigestSchedule); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
