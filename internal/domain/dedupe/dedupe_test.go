package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dedupe "github.com/okian/spotted/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When an id is recorded for the first time", func() {
			seen := d.SeenAndRecord(ctx, "C1:1.0")

			Convey("Then it is reported as new and becomes seen", func() {
				So(seen, ShouldBeFalse)
				So(d.Seen(ctx, "C1:1.0"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then recording it again reports a duplicate", func() {
				So(d.SeenAndRecord(ctx, "C1:1.0"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When only Seen is called", func() {
			So(d.Seen(ctx, "C1:2.0"), ShouldBeFalse)

			Convey("Then nothing is recorded", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "C1:2.0"), ShouldBeFalse)
			})
		})

		Convey("When an id is unrecorded", func() {
			d.SeenAndRecord(ctx, "a")
			d.SeenAndRecord(ctx, "b")
			d.Unrecord(ctx, "a")

			Convey("Then it can be recorded again", func() {
				So(d.Seen(ctx, "a"), ShouldBeFalse)
				So(d.Seen(ctx, "b"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})

			Convey("Then unrecording an unknown id is harmless", func() {
				d.Unrecord(ctx, "zzz")
				So(d.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a deduper bounded by count", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3), dedupe.WithTTL(0))
		for i := 0; i < 5; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i))
		}

		Convey("Then the oldest entries are evicted first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.Seen(ctx, "id-0"), ShouldBeFalse)
			So(d.Seen(ctx, "id-1"), ShouldBeFalse)
			So(d.Seen(ctx, "id-2"), ShouldBeTrue)
			So(d.Seen(ctx, "id-4"), ShouldBeTrue)
		})

		Convey("Then unrecording the middle keeps the list consistent", func() {
			d.Unrecord(ctx, "id-3")
			d.SeenAndRecord(ctx, "id-5")
			d.SeenAndRecord(ctx, "id-6")
			So(d.Size(), ShouldEqual, 3)
			So(d.Seen(ctx, "id-2"), ShouldBeFalse)
			So(d.Seen(ctx, "id-4"), ShouldBeTrue)
			So(d.Seen(ctx, "id-6"), ShouldBeTrue)
		})
	})

	Convey("Given a deduper bounded by age", t, func() {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		d := dedupe.NewInMemoryDeduper(dedupe.WithTTL(time.Minute), dedupe.WithClock(clock.Now))

		d.SeenAndRecord(ctx, "old")
		clock.Advance(30 * time.Second)
		d.SeenAndRecord(ctx, "young")

		Convey("When less than the ttl has passed", func() {
			clock.Advance(20 * time.Second)
			So(d.Seen(ctx, "old"), ShouldBeTrue)
		})

		Convey("When the ttl has passed for the first entry only", func() {
			clock.Advance(31 * time.Second)

			Convey("Then the first entry is forgotten", func() {
				So(d.Seen(ctx, "old"), ShouldBeFalse)
				So(d.Seen(ctx, "young"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When everything expired", func() {
			clock.Advance(2 * time.Minute)
			So(d.SeenAndRecord(ctx, "young"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 1)
		})
	})

	Convey("Given concurrent deliveries of the same id", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var firsts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "C1:9.9") {
					firsts.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one caller records it", func() {
			So(firsts.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
