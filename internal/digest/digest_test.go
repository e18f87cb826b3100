package digest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/spotted/internal/domain/types"
	"github.com/okian/spotted/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type board struct {
	entries []types.Entry
	err     error
	asked   int
}

func (b *board) TopN(_ context.Context, n int) ([]types.Entry, error) {
	b.asked = n
	if b.err != nil {
		return nil, b.err
	}
	return b.entries, nil
}

type poster struct {
	mu    sync.Mutex
	texts []string
	chans []string
	done  chan struct{}
}

func (p *poster) PostMessage(_ context.Context, channelID, _, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	p.chans = append(p.chans, channelID)
	if p.done != nil && len(p.texts) == 1 {
		close(p.done)
	}
	return nil
}

func TestDigest(t *testing.T) {
	ctx := context.Background()

	Convey("Given a digest over a two-user board", t, func() {
		b := &board{entries: []types.Entry{
			{Rank: 1, UserID: "U1", DisplayName: "alice", Score: 4},
			{Rank: 2, UserID: "U2", Score: -1},
		}}
		p := &poster{}
		s := New(b, p, "C1", WithSize(5), WithLogger(logger.Nop()))

		Convey("When it runs once", func() {
			So(s.RunOnce(ctx), ShouldBeNil)

			Convey("Then the top entries are posted to the channel", func() {
				So(b.asked, ShouldEqual, 5)
				So(p.chans, ShouldResemble, []string{"C1"})
				So(p.texts[0], ShouldEqual, ":trophy: *Spot leaderboard*\n1. alice: 4\n2. <@U2>: -1")
			})
		})

		Convey("When the board cannot be read", func() {
			b.err = errors.New("db down")
			So(s.RunOnce(ctx), ShouldNotBeNil)
			So(p.texts, ShouldBeEmpty)
		})

		Convey("When it is scheduled every second", func() {
			p.done = make(chan struct{})
			So(s.Start(ctx, "* * * * * *"), ShouldBeNil)
			defer s.Stop()

			select {
			case <-p.done:
			case <-time.After(3 * time.Second):
			}
			p.mu.Lock()
			So(len(p.texts), ShouldBeGreaterThanOrEqualTo, 1)
			p.mu.Unlock()
		})

		Convey("When it has no channel", func() {
			s := New(b, p, "", WithLogger(logger.Nop()))
			So(errors.Is(s.Start(ctx, "daily"), ErrNoChannel), ShouldBeTrue)
		})
	})

	Convey("Schedules accept five and six fields, descriptors and names", t, func() {
		for _, sched := range []string{"0 9 * * MON", "0 0 9 * * *", "@hourly", "daily", "weekly"} {
			So(Validate(sched), ShouldBeNil)
		}
		So(Validate("every tuesday"), ShouldNotBeNil)
	})

	Convey("An empty board has its own message", t, func() {
		So(Format(nil), ShouldContainSubstring, "No spots yet")
	})
}
