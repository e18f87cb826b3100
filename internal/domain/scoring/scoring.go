// Package scoring turns confirmed spots into leaderboard deltas and applies
// them to the score store.
package scoring

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// Default retry configuration.
const (
	defaultAttempts    = 4
	defaultBaseBackoff = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
)

// Store is the part of the score store the engine writes through.
type Store interface {
	// UpsertDelta atomically adds delta to the user's score, creating the
	// row at zero first if needed. An empty displayName keeps the stored one.
	UpsertDelta(ctx context.Context, userID, displayName string, delta int64) (model.UserScore, error)
}

// NameResolver looks up a user's display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRetry bounds write retries: attempts in total per delta, with
// exponential backoff starting at base and capped at maxBackoff.
func WithRetry(attempts int, base, maxBackoff time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if base > 0 {
			e.base = base
		}
		if maxBackoff >= e.base {
			e.maxBackoff = maxBackoff
		}
	}
}

// WithNameResolver enables display-name lookups before each write.
func WithNameResolver(r NameResolver) Option {
	return func(e *Engine) { e.names = r }
}

// WithSleeper injects the backoff wait, used by tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine applies score deltas for confirmed spots.
type Engine struct {
	store      Store
	names      NameResolver
	attempts   int
	base       time.Duration
	maxBackoff time.Duration
	sleep      Sleeper
	log        logger.Logger
}

// NewEngine creates an Engine writing to store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		attempts:   defaultAttempts,
		base:       defaultBaseBackoff,
		maxBackoff: defaultMaxBackoff,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("scoring")
	}
	return e
}

// Deltas returns the ledger entries of a verdict: the actor gains one point
// per target and every target loses one. Non-spots produce nothing.
func Deltas(v model.SpotVerdict) []model.ScoreDelta {
	if !v.IsSpot || len(v.TargetIDs) == 0 {
		return nil
	}
	out := make([]model.ScoreDelta, 0, len(v.TargetIDs)+1)
	out = append(out, model.ScoreDelta{UserID: v.ActorID, Delta: int64(len(v.TargetIDs))})
	for _, t := range v.TargetIDs {
		out = append(out, model.ScoreDelta{UserID: t, Delta: -1})
	}
	return out
}

// Apply writes the deltas of v and returns the ones that landed. Writes run
// on a context detached from ctx's cancellation: once a spot is confirmed it
// is scored or retried to exhaustion. Deltas are written in order and the
// first one that exhausts its retries stops the run: the error is an
// *ApplyError wrapping ErrStoreWrite listing it and every later delta as
// pending. Deltas written before it are not rolled back.
func (e *Engine) Apply(ctx context.Context, v model.SpotVerdict) ([]model.ScoreDelta, error) {
	return e.ApplyDeltas(ctx, v.EventID, Deltas(v))
}

// ApplyDeltas writes an explicit delta list, used for operator replays.
func (e *Engine) ApplyDeltas(ctx context.Context, eventID string, deltas []model.ScoreDelta) ([]model.ScoreDelta, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	ctx = context.WithoutCancel(ctx)

	applied := make([]model.ScoreDelta, 0, len(deltas))
	for i, d := range deltas {
		if err := e.applyOne(ctx, eventID, d); err != nil {
			pending := append([]model.ScoreDelta(nil), deltas[i:]...)
			return applied, &ApplyError{EventID: eventID, Failed: pending, Err: err}
		}
		applied = append(applied, d)
	}
	return applied, nil
}

func (e *Engine) applyOne(ctx context.Context, eventID string, d model.ScoreDelta) error {
	name := e.displayName(ctx, d.UserID)

	backoff := e.base
	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		var row model.UserScore
		row, err = e.store.UpsertDelta(ctx, d.UserID, name, d.Delta)
		if err == nil {
			metrics.RecordScoreDeltaApplied()
			e.log.Debug(ctx, "score delta applied",
				logger.String("event_id", eventID),
				logger.String("user_id", d.UserID),
				logger.Int64("delta", d.Delta),
				logger.Int64("score", row.Score))
			return nil
		}

		metrics.RecordScoreWriteError()
		if attempt == e.attempts {
			break
		}
		metrics.RecordScoreWriteRetry()
		e.log.Warn(ctx, "score write failed, retrying",
			logger.String("event_id", eventID),
			logger.String("user_id", d.UserID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Error(err))

		_ = e.sleep(ctx, withJitter(backoff))
		backoff *= 2
		if backoff > e.maxBackoff {
			backoff = e.maxBackoff
		}
	}
	return err
}

func (e *Engine) displayName(ctx context.Context, userID string) string {
	if e.names == nil {
		return ""
	}
	name, err := e.names.DisplayName(ctx, userID)
	if err != nil {
		e.log.Debug(ctx, "display name lookup failed", logger.String("user_id", userID), logger.Error(err))
		return ""
	}
	return name
}

// withJitter adds up to 10% random jitter.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d)/10+1)) //nolint:gosec // jitter only
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
