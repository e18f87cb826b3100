// Package attachment resolves the image attachments of a message whose files
// may arrive after the message event itself.
package attachment

import (
	"context"
	"time"

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// DefaultDelay is how long an attachment-less event waits before the re-fetch.
const DefaultDelay = 2 * time.Second

// Fetcher reads the current state of a message from the chat platform.
type Fetcher interface {
	FetchEvent(ctx context.Context, ref model.MessageRef) (model.MessageEvent, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ref model.MessageRef) (model.MessageEvent, error)

// FetchEvent calls f.
func (f FetcherFunc) FetchEvent(ctx context.Context, ref model.MessageRef) (model.MessageEvent, error) {
	return f(ctx, ref)
}

// WaitPolicy controls the single delayed re-fetch.
type WaitPolicy struct {
	Delay time.Duration
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Resolver implements the one-wait, one-refetch strategy.
type Resolver struct {
	fetcher Fetcher
	policy  WaitPolicy
	sleep   Sleeper
	log     logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWaitPolicy overrides the default delay.
func WithWaitPolicy(p WaitPolicy) Option {
	return func(r *Resolver) {
		if p.Delay >= 0 {
			r.policy = p
		}
	}
}

// WithSleeper injects the wait implementation, used by tests.
func WithSleeper(s Sleeper) Option {
	return func(r *Resolver) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver builds a Resolver. A nil fetcher disables the re-fetch.
func NewResolver(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: fetcher,
		policy:  WaitPolicy{Delay: DefaultDelay},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("attachment")
	}
	return r
}

// Resolve returns the final image attachments of ev. Events delivered with
// attachments are answered immediately; events without any wait once and
// re-read the message. Fetch failures count as "no attachments".
func (r *Resolver) Resolve(ctx context.Context, ev model.MessageEvent) []model.Attachment {
	if len(ev.Attachments) > 0 {
		return model.Images(ev.Attachments)
	}
	if r.fetcher == nil {
		return nil
	}

	if err := r.sleep(ctx, r.policy.Delay); err != nil {
		metrics.RecordAttachmentRefetch("canceled")
		return nil
	}

	fresh, err := r.fetcher.FetchEvent(ctx, ev.Ref())
	if err != nil {
		metrics.RecordAttachmentRefetch("error")
		r.log.Warn(ctx, "attachment re-fetch failed",
			logger.String("event_id", ev.EventID),
			logger.String("channel_id", ev.ChannelID),
			logger.Error(err))
		return nil
	}

	imgs := model.Images(fresh.Attachments)
	if len(imgs) == 0 {
		metrics.RecordAttachmentRefetch("empty")
	} else {
		metrics.RecordAttachmentRefetch("found")
	}
	r.log.Debug(ctx, "attachments re-fetched",
		logger.String("event_id", ev.EventID),
		logger.Int("attachments", len(fresh.Attachments)),
		logger.Int("images", len(imgs)))
	return imgs
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
