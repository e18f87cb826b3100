// Command spot-sim replays a synthetic spotting workload against a running
// bot and verifies the resulting scores.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/spotted/internal/simulate"
	"github.com/okian/spotted/pkg/logger"
)

const runTimeout = 10 * time.Minute

func main() {
	var cfg simulate.Config
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:3000", "base URL of the bot")
	flag.StringVar(&cfg.SigningSecret, "secret", os.Getenv("SPOTTED_SLACK_SIGNING_SECRET"), "Slack signing secret")
	flag.StringVar(&cfg.Channel, "channel", envOr("SPOTTED_CHANNEL_ID", simulate.DefaultChannel), "spotted channel id")
	flag.IntVar(&cfg.Users, "users", simulate.DefaultUsers, "number of synthetic users")
	flag.IntVar(&cfg.Messages, "messages", simulate.DefaultMessages, "number of messages")
	flag.Float64Var(&cfg.SpotRatio, "spots", simulate.DefaultSpotRatio, "share of messages that are spots")
	flag.Float64Var(&cfg.Duplicates, "dupes", simulate.DefaultDuplicates, "share of messages redelivered")
	flag.IntVar(&cfg.MaxTargets, "targets", simulate.DefaultMaxTargets, "max mentions per spot")
	flag.IntVar(&cfg.Workers, "workers", 0, "concurrent submitters")
	flag.DurationVar(&cfg.Timeout, "timeout", simulate.DefaultTimeout, "HTTP request timeout")
	flag.DurationVar(&cfg.Settle, "settle", simulate.DefaultSettle, "wait before verifying")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	format := flag.String("log-format", logger.FormatText, "log format: text or json")
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	log := logger.Named("spot-sim")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	report, err := simulate.Run(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "simulation failed",
			logger.Int("mismatches", len(report.Mismatches)),
			logger.Error(err))
		cancel()
		stop()
		os.Exit(1)
	}
	log.Info(ctx, "simulation passed",
		logger.Int("deliveries", report.Deliveries),
		logger.Int("throttled", report.Throttled),
		logger.Int("users_checked", report.Checked),
		logger.Duration("duration", report.Duration))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
