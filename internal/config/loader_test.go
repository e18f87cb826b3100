package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/spotted/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
	// Point the .env lookup at a file that does not exist.
	_ = os.Setenv(config.EnvDotFile, filepath.Join(os.TempDir(), "spotted-missing.env"))
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)
		_ = os.Setenv("SPOTTED_SLACK_SIGNING_SECRET", "s3cret")

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
				convey.So(cfg.Transport, convey.ShouldEqual, config.TransportHTTP)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
				convey.So(cfg.DedupeTTL(), convey.ShouldEqual, 15*time.Minute)
				convey.So(cfg.AttachmentWait(), convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.ScoreRetryAttempts, convey.ShouldEqual, 4)
				convey.So(cfg.ScoreRetryBase(), convey.ShouldEqual, 200*time.Millisecond)
				convey.So(cfg.ScoreRetryMax(), convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.NotifyEnabled, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SPOTTED_ADDR", ":8080")
			_ = os.Setenv("SPOTTED_QUEUE_SIZE", "500")
			_ = os.Setenv("SPOTTED_WORKER_COUNT", "16")
			_ = os.Setenv("SPOTTED_CHANNEL_ID", "C123")
			_ = os.Setenv("SPOTTED_NOTIFY_ENABLED", "true")
			_ = os.Setenv("SPOTTED_SLACK_RPS", "2.5")
			_ = os.Setenv("SPOTTED_STORE_DRIVER", "memory")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.ChannelID, convey.ShouldEqual, "C123")
				convey.So(cfg.NotifyEnabled, convey.ShouldBeTrue)
				convey.So(cfg.SlackRPS, convey.ShouldEqual, 2.5)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := filepath.Join(t.TempDir(), "config.yaml")
			yaml := "addr: \":9999\"\nlog_format: json\ndigest_schedule: weekly\nchannel_id: C9\ndedupe_ttl_ms: 60000\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv(config.EnvConfig, path)
			_ = os.Setenv("SPOTTED_ADDR", ":7777")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7777")
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.DigestSchedule, convey.ShouldEqual, "weekly")
				convey.So(cfg.DedupeTTL(), convey.ShouldEqual, time.Minute)
			})
		})

		convey.Convey("When the signing secret is missing", func() {
			_ = os.Unsetenv("SPOTTED_SLACK_SIGNING_SECRET")
			_, err := config.Load(ctx)

			convey.Convey("Then the HTTP webhook is refused", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(errors.Is(err, config.ErrMissingCredential), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the YAML file is missing", func() {
			_ = os.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a .env file is present", func() {
			path := filepath.Join(t.TempDir(), ".env")
			convey.So(os.WriteFile(path, []byte("SPOTTED_BOT_USER_ID=UBOT\nSPOTTED_ADDR=:1111\n"), 0o600), convey.ShouldBeNil)
			_ = os.Setenv(config.EnvDotFile, path)
			_ = os.Setenv("SPOTTED_ADDR", ":2222")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills in unset variables only", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.BotUserID, convey.ShouldEqual, "UBOT")
				convey.So(cfg.Addr, convey.ShouldEqual, ":2222")
			})
		})
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()
		cfg.SlackSigningSecret = "s3cret"
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		cases := map[string]func(*config.Config){
			"empty addr":               func(c *config.Config) { c.Addr = "" },
			"unknown transport":        func(c *config.Config) { c.Transport = "carrier-pigeon" },
			"socket without token":     func(c *config.Config) { c.Transport = config.TransportSocket },
			"unknown driver":           func(c *config.Config) { c.StoreDriver = "mysql" },
			"sqlite without dsn":       func(c *config.Config) { c.StoreDSN = "" },
			"zero retries":             func(c *config.Config) { c.ScoreRetryAttempts = 0 },
			"digest without channel":   func(c *config.Config) { c.DigestSchedule = "daily" },
			"unknown log format":       func(c *config.Config) { c.LogFormat = "xml" },
			"negative attachment wait": func(c *config.Config) { c.AttachmentWaitMS = -1 },
			"http without secret":      func(c *config.Config) { c.SlackSigningSecret = "" },
			"unparseable digest": func(c *config.Config) {
				c.ChannelID = "C1"
				c.DigestSchedule = "every full moon"
			},
		}
		for name, mutate := range cases {
			convey.Convey("It rejects "+name, func() {
				mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("It names the missing app token", func() {
			cfg.Transport = config.TransportSocket
			convey.So(errors.Is(cfg.Validate(), config.ErrMissingCredential), convey.ShouldBeTrue)
		})

		convey.Convey("It accepts a named or cron digest schedule", func() {
			cfg.ChannelID = "C1"
			for _, schedule := range []string{"weekly", "0 30 9 * * MON-FRI", "@daily"} {
				cfg.DigestSchedule = schedule
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			}
		})

		convey.Convey("It accepts socket mode with an app token and an in-memory store", func() {
			cfg.Transport = config.TransportSocket
			cfg.SlackAppToken = "xapp-1"
			cfg.StoreDriver = config.DriverMemory
			cfg.StoreDSN = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
