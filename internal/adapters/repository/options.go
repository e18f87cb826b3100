package repository

import (
	"time"

	"github.com/okian/spotted/pkg/logger"
)

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	now          func() time.Time
	log          logger.Logger
	maxOpenConns int
}

func defaultOptions() options {
	return options{now: time.Now, maxOpenConns: 10}
}

// WithClock injects the time source for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMaxOpenConns bounds the SQL connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}
