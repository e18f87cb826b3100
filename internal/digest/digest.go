// Package digest posts the leaderboard to Slack on a cron schedule.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/spotted/internal/domain/types"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

const (
	defaultSize = 10
	runTimeout  = 30 * time.Second
)

// ErrNoChannel is returned when a digest has nowhere to go.
var ErrNoChannel = errors.New("digest channel not set")

// Leaderboard reads the top of the board.
type Leaderboard interface {
	TopN(ctx context.Context, n int) ([]types.Entry, error)
}

// Poster sends a channel message.
type Poster interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
}

// parser accepts both 5-field and 6-field (leading seconds) expressions
// plus descriptors such as @daily.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSize sets how many users the digest lists.
func WithSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// Scheduler posts a leaderboard digest on a schedule.
type Scheduler struct {
	cron      *cron.Cron
	board     Leaderboard
	poster    Poster
	channelID string
	size      int
	log       logger.Logger
}

// New creates a Scheduler posting to channelID.
func New(board Leaderboard, poster Poster, channelID string, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		board:     board,
		poster:    poster,
		channelID: channelID,
		size:      defaultSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("digest")
	}
	return s
}

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := parser.Parse(expand(schedule)); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", schedule, err)
	}
	return nil
}

// expand maps the named schedules to cron expressions.
func expand(schedule string) string {
	switch strings.ToLower(strings.TrimSpace(schedule)) {
	case "daily":
		return "0 0 9 * * *"
	case "weekly":
		return "0 0 9 * * MON"
	}
	return schedule
}

// Start registers the digest job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if s.channelID == "" {
		return ErrNoChannel
	}
	ctx = context.WithoutCancel(ctx)
	_, err := s.cron.AddFunc(expand(schedule), func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if err := s.RunOnce(rctx); err != nil {
			s.log.Error(rctx, "scheduled digest failed", logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info(ctx, "digest scheduler started",
		logger.String("schedule", schedule),
		logger.String("channel_id", s.channelID),
		logger.Int("size", s.size))
	return nil
}

// Stop stops the scheduler and waits for a running digest to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info(context.Background(), "digest scheduler stopped")
}

// RunOnce posts one digest now.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	entries, err := s.board.TopN(ctx, s.size)
	if err != nil {
		metrics.RecordDigestRun("error")
		return fmt.Errorf("read leaderboard: %w", err)
	}
	if err := s.poster.PostMessage(ctx, s.channelID, "", Format(entries)); err != nil {
		metrics.RecordDigestRun("error")
		return fmt.Errorf("post digest: %w", err)
	}
	metrics.RecordDigestRun("sent")
	s.log.Info(ctx, "digest posted", logger.Int("entries", len(entries)))
	return nil
}

// Format renders entries as a Slack message.
func Format(entries []types.Entry) string {
	if len(entries) == 0 {
		return ":trophy: No spots yet. Get out there!"
	}
	var b strings.Builder
	b.WriteString(":trophy: *Spot leaderboard*")
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = "<@" + e.UserID + ">"
		}
		fmt.Fprintf(&b, "\n%d. %s: %d", e.Rank, name, e.Score)
	}
	return b.String()
}
