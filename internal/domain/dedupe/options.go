package dedupe

import "time"

// Option applies a configuration option to the deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize bounds how many ids are remembered; <= 0 disables the count bound.
func WithMaxSize(size int) Option {
	return func(d *inMemoryDeduper) { d.maxSize = size }
}

// WithTTL forgets ids older than ttl; <= 0 disables age eviction.
func WithTTL(ttl time.Duration) Option {
	return func(d *inMemoryDeduper) { d.ttl = ttl }
}

// WithClock injects the time source used for age eviction.
func WithClock(now func() time.Time) Option {
	return func(d *inMemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}
