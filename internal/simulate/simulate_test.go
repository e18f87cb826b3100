package simulate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/spotted/internal/adapters/http/api"
	"github.com/okian/spotted/internal/adapters/slack"
	service "github.com/okian/spotted/internal/app"
	"github.com/okian/spotted/internal/simulate"
	"github.com/okian/spotted/pkg/logger"
)

func TestGenerate(t *testing.T) {
	Convey("Given a seeded workload", t, func() {
		cfg := simulate.Config{Users: 5, Messages: 40, SpotRatio: 0.5, Duplicates: 1, MaxTargets: 2, Seed: 42}
		plan, err := simulate.Generate(cfg, time.Unix(1_700_000_000, 0))
		So(err, ShouldBeNil)

		Convey("Then every message is delivered twice", func() {
			So(plan.Deliveries, ShouldHaveLength, 80)
			seen := map[string]int{}
			for _, d := range plan.Deliveries {
				seen[d.EventID]++
			}
			So(seen, ShouldHaveLength, 40)
		})

		Convey("Then the expected ledger sums to zero", func() {
			var sum int64
			for _, v := range plan.Expected {
				sum += v
			}
			So(sum, ShouldEqual, 0)
			So(plan.Spots, ShouldBeGreaterThan, 0)
		})

		Convey("Then bodies parse as candidate messages in the channel", func() {
			env, err := slack.ParseEnvelope(plan.Deliveries[0].Body)
			So(err, ShouldBeNil)
			ev, reason := env.MessageEvent(time.Now())
			So(reason, ShouldBeEmpty)
			So(ev.ChannelID, ShouldEqual, simulate.DefaultChannel)
			So(ev.Attachments, ShouldHaveLength, 1)
		})

		Convey("Then the same seed yields the same ledger", func() {
			again, err := simulate.Generate(cfg, time.Unix(1_700_000_000, 0))
			So(err, ShouldBeNil)
			So(again.Expected, ShouldResemble, plan.Expected)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a bot behind a signed events endpoint", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithChannel(simulate.DefaultChannel),
			service.WithWorkerCount(4),
			service.WithLogger(logger.Nop()),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		mux := http.NewServeMux()
		api.NewServer(svc, api.WithSigningSecret("s3cret"), api.WithLogger(logger.Nop())).Register(mux)
		ts := httptest.NewServer(mux)
		Reset(ts.Close)

		cfg := simulate.Config{
			BaseURL:       ts.URL,
			SigningSecret: "s3cret",
			Users:         8,
			Messages:      60,
			Duplicates:    0.3,
			Workers:       4,
			Settle:        500 * time.Millisecond,
			Seed:          7,
		}

		Convey("When the workload is replayed", func() {
			report, err := simulate.Run(ctx, cfg, logger.Nop())

			Convey("Then every score matches the expected ledger", func() {
				So(err, ShouldBeNil)
				So(report.Failed, ShouldEqual, 0)
				So(report.Accepted, ShouldEqual, report.Deliveries)
				So(report.Mismatches, ShouldBeEmpty)
				So(report.Checked, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the signing secret is wrong", func() {
			cfg.SigningSecret = "nope"
			client := simulate.NewClient(cfg)
			plan, err := simulate.Generate(cfg, time.Now())
			So(err, ShouldBeNil)

			status, err := client.Submit(ctx, plan.Deliveries[0])
			So(err, ShouldBeNil)
			So(status, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When the leaderboard is read directly", func() {
			client := simulate.NewClient(cfg)
			entries, err := client.Leaderboard(ctx, 5)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})
}
