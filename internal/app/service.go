// Package service wires the spot pipeline together and exposes the
// operations the HTTP API and the Slack transports call.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	eventqueue "github.com/okian/spotted/internal/adapters/mq/queue"
	workerpool "github.com/okian/spotted/internal/adapters/mq/worker"
	"github.com/okian/spotted/internal/adapters/repository"
	"github.com/okian/spotted/internal/adapters/slack"
	"github.com/okian/spotted/internal/domain/attachment"
	"github.com/okian/spotted/internal/domain/dedupe"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/internal/domain/scoring"
	"github.com/okian/spotted/internal/domain/spot"
	"github.com/okian/spotted/internal/domain/types"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// Ignore reasons added by the service on top of the Slack envelope filter.
const (
	IgnoreOtherChannel = "other_channel"
	IgnoreSelf         = "self"
)

// Service implements the API dependencies for the spot leaderboard.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	slack    SlackAPI
	deduper  dedupe.Deduper
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool
	pipeline *Pipeline
	engine   *scoring.Engine
	ledger   *FailedLedger

	// Configuration
	channelID      string
	botUserID      string
	workerCount    int
	queueSize      int
	dedupeSize     int
	dedupeTTL      time.Duration
	attachmentWait time.Duration
	retryAttempts  int
	retryBase      time.Duration
	retryMax       time.Duration
	notify         bool
	ledgerSize     int
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time

	started bool
	logger  logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU() * 4,
		queueSize:      10_000,
		dedupeSize:     dedupe.DefaultMaxSize,
		dedupeTTL:      dedupe.DefaultTTL,
		attachmentWait: attachment.DefaultDelay,
		ledgerSize:     defaultLedgerSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewTreapStore()
	}
	s.ledger = NewFailedLedger(s.ledgerSize)
	return s
}

// Start builds the pipeline and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting spot service...")

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithTTL(s.dedupeTTL),
		dedupe.WithClock(s.now),
	)
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithClock(s.now),
	)

	var fetcher attachment.Fetcher
	var notifier Notifier
	engineOpts := []scoring.Option{
		scoring.WithRetry(s.retryAttempts, s.retryBase, s.retryMax),
		scoring.WithLogger(s.logger.Named("scoring")),
	}
	if s.slack != nil {
		fetcher = s.slack
		engineOpts = append(engineOpts, scoring.WithNameResolver(s.slack))
		if s.notify {
			notifier = s.slack
		}
	}
	resolverOpts := []attachment.Option{
		attachment.WithWaitPolicy(attachment.WaitPolicy{Delay: s.attachmentWait}),
		attachment.WithLogger(s.logger.Named("attachment")),
	}
	if s.sleep != nil {
		resolverOpts = append(resolverOpts, attachment.WithSleeper(s.sleep))
		engineOpts = append(engineOpts, scoring.WithSleeper(s.sleep))
	}

	s.engine = scoring.NewEngine(s.store, engineOpts...)
	s.pipeline = NewPipeline(
		attachment.NewResolver(fetcher, resolverOpts...),
		spot.NewClassifier(s.deduper),
		s.engine,
		notifier,
		s.ledger,
		s.logger.Named("pipeline"),
	)
	s.pipeline.now = s.now

	s.pool = workerpool.NewPool(s.queue, s.pipeline,
		workerpool.WithWorkerCount(s.workerCount),
		workerpool.WithPoolLogger(s.logger.Named("worker-pool")))
	// Workers outlive the start context: Stop closes the queue and they
	// drain what Slack was already told we accepted.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "spot service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Duration("dedupe_ttl", s.dedupeTTL),
		logger.String("channel_id", s.channelID),
	)
	return nil
}

// Stop closes the queue, lets the workers drain it and stops them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping spot service...")

	err := s.pool.Shutdown(ctx)
	s.started = false
	s.logger.Info(ctx, "spot service stopped")
	return err
}

// HandleEnvelope filters a Slack Events API envelope and queues its message
// event. Envelopes that are not candidate messages are dropped with a
// metric; only a full or closed queue is an error.
func (s *Service) HandleEnvelope(ctx context.Context, env slack.Envelope, transport string) error { //nolint:gocritic // hugeParam: decoded envelopes are values
	metrics.RecordEventReceived(transport)

	ev, reason := env.MessageEvent(s.now())
	if reason != "" {
		metrics.RecordEventIgnored(reason)
		s.logger.Debug(ctx, "envelope ignored",
			logger.String("delivery_id", env.EventID),
			logger.String("reason", reason))
		return nil
	}
	_, err := s.Enqueue(ctx, ev)
	return err
}

// Enqueue submits a message event for asynchronous processing. It reports
// whether the event was queued; events from other channels or from the bot
// itself are dropped without error.
func (s *Service) Enqueue(ctx context.Context, ev model.MessageEvent) (bool, error) { //nolint:gocritic // hugeParam: events are values
	if reason := s.ignoreReason(ev); reason != "" {
		metrics.RecordEventIgnored(reason)
		s.logger.Debug(ctx, "event ignored",
			logger.String("event_id", ev.EventID),
			logger.String("reason", reason))
		return false, nil
	}

	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return false, ErrNotStarted
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	if err := q.Enqueue(ctx, ev); err != nil {
		s.logger.Warn(ctx, "failed to enqueue event",
			logger.String("event_id", ev.EventID),
			logger.Error(err))
		return false, fmt.Errorf("enqueue %s: %w", ev.EventID, err)
	}
	s.logger.Debug(ctx, "event enqueued",
		logger.String("event_id", ev.EventID),
		logger.String("delivery_id", ev.DeliveryID))
	return true, nil
}

func (s *Service) ignoreReason(ev model.MessageEvent) string { //nolint:gocritic // hugeParam: events are values
	switch {
	case s.channelID != "" && ev.ChannelID != s.channelID:
		return IgnoreOtherChannel
	case s.botUserID != "" && ev.AuthorID == s.botUserID:
		return IgnoreSelf
	}
	return ""
}

// Process runs ev through the pipeline synchronously, bypassing the queue.
func (s *Service) Process(ctx context.Context, ev model.MessageEvent) (model.SpotVerdict, error) { //nolint:gocritic // hugeParam: events are values
	s.mu.RLock()
	p := s.pipeline
	s.mu.RUnlock()
	if p == nil {
		return model.SpotVerdict{}, ErrNotStarted
	}
	return p.Process(ctx, ev)
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	entries, err := s.store.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	apiEntries := make([]types.Entry, len(entries))
	for i, entry := range entries {
		apiEntries[i] = toAPIEntry(entry)
	}
	return apiEntries, nil
}

// Rank returns the rank and score for a given user id.
func (s *Service) Rank(ctx context.Context, userID string) (types.Entry, error) {
	entry, err := s.store.Rank(ctx, userID)
	if err != nil {
		return types.Entry{}, err
	}
	return toAPIEntry(entry), nil
}

func toAPIEntry(e repository.Entry) types.Entry {
	return types.Entry{
		Rank:        e.Rank,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Score:       e.Score,
	}
}

// AdjustScore adds delta to a user's score outside the spot pipeline.
func (s *Service) AdjustScore(ctx context.Context, userID string, delta int64) (model.UserScore, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.UserScore{}, repository.ErrInvalidUser
	}
	if delta == 0 {
		return model.UserScore{}, ErrInvalidDelta
	}
	row, err := s.store.UpsertDelta(ctx, userID, "", delta)
	if err != nil {
		return model.UserScore{}, err
	}
	s.logger.Info(ctx, "score adjusted",
		logger.String("user_id", userID),
		logger.Int64("delta", delta),
		logger.Int64("score", row.Score))
	return row, nil
}

// SetScore overwrites a user's score outside the spot pipeline.
func (s *Service) SetScore(ctx context.Context, userID, displayName string, score int64) (model.UserScore, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.UserScore{}, repository.ErrInvalidUser
	}
	row, err := s.store.SetScore(ctx, userID, displayName, score)
	if err != nil {
		return model.UserScore{}, err
	}
	s.logger.Info(ctx, "score set",
		logger.String("user_id", userID),
		logger.Int64("score", row.Score))
	return row, nil
}

// FailedEvents lists spots that were confirmed but not fully scored.
func (s *Service) FailedEvents() []model.FailedEvent {
	return s.ledger.List()
}

// Replay re-applies the pending deltas of a failed spot. On success the
// record leaves the ledger; on another failure it is updated in place with
// what is still pending. Concurrent replays of one event are refused with
// ErrReplayInProgress while the first one runs.
func (s *Service) Replay(ctx context.Context, eventID string) (model.FailedEvent, error) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return model.FailedEvent{}, ErrNotStarted
	}

	fe, err := s.ledger.Claim(eventID)
	if err != nil {
		return model.FailedEvent{}, err
	}
	defer s.ledger.Release(eventID)

	applied, err := engine.ApplyDeltas(ctx, eventID, fe.Pending)
	fe.Applied = append(fe.Applied, applied...)
	if err != nil {
		var ae *scoring.ApplyError
		if errors.As(err, &ae) {
			fe.Pending = ae.Failed
		}
		fe.Error = err.Error()
		fe.FailedAt = s.now()
		s.ledger.Record(fe)
		return fe, err
	}

	fe.Pending = nil
	fe.Error = ""
	s.ledger.Remove(eventID)
	s.logger.Info(ctx, "failed spot replayed",
		logger.String("event_id", eventID),
		logger.Int("applied", len(applied)))
	return fe, nil
}

// Health checks Slack configuration and store connectivity.
func (s *Service) Health(ctx context.Context) types.Health {
	h := types.Health{StoreConnected: s.store.Ping(ctx) == nil}
	if s.slack != nil {
		h.SlackConfigured = s.slack.Configured()
	}
	return h
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"dedupeSize":   s.dedupeSize,
		"failedEvents": s.ledger.Len(),
	}

	if s.started {
		queueLen := s.queue.Len()
		stats["queueLength"] = queueLen
		stats["processedEvents"] = s.deduper.Size()
		metrics.UpdateDedupeSize(s.deduper.Size())
	}
	if users, err := s.store.Count(ctx); err == nil {
		stats["totalUsers"] = users
		metrics.UpdateTotalUsers(users)
	}
	return stats
}
