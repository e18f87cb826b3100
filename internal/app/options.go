package service

import (
	"context"
	"time"

	"github.com/okian/spotted/internal/adapters/repository"
	"github.com/okian/spotted/internal/domain/attachment"
	"github.com/okian/spotted/internal/domain/scoring"
	"github.com/okian/spotted/pkg/logger"
)

// SlackAPI is everything the service needs from the Slack Web API.
type SlackAPI interface {
	attachment.Fetcher
	scoring.NameResolver
	Notifier
	Configured() bool
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the score store. Defaults to an in-memory treap store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSlack sets the Slack Web API collaborator used for attachment
// re-fetches, display names and notifications.
func WithSlack(api SlackAPI) Option {
	return func(s *Service) { s.slack = api }
}

// WithChannel restricts processing to one channel. Empty accepts all.
func WithChannel(channelID string) Option {
	return func(s *Service) { s.channelID = channelID }
}

// WithBotUserID drops events authored by the bot itself.
func WithBotUserID(userID string) Option {
	return func(s *Service) { s.botUserID = userID }
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupe bounds the processed-event set by entry count and age.
func WithDedupe(size int, ttl time.Duration) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithAttachmentWait sets the delay before the single attachment re-fetch.
func WithAttachmentWait(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.attachmentWait = d
		}
	}
}

// WithScoreRetry bounds store write retries.
func WithScoreRetry(attempts int, base, maxBackoff time.Duration) Option {
	return func(s *Service) {
		s.retryAttempts = attempts
		s.retryBase = base
		s.retryMax = maxBackoff
	}
}

// WithNotify toggles the thread reply after a spot is scored.
func WithNotify(enabled bool) Option {
	return func(s *Service) { s.notify = enabled }
}

// WithFailedLedgerSize bounds the failed-event ledger.
func WithFailedLedgerSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.ledgerSize = size
		}
	}
}

// WithSleeper replaces the attachment and retry waits, used by tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithClock sets the time source for event stamps and dedupe expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
