package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.verdicts.WithLabelValues("ok").Inc()

				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_verdicts_total"], ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the duplicate registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Verdicts are counted per reason", func() {
			before := testutil.ToFloat64(globalManager.verdicts.WithLabelValues("self_only"))
			RecordVerdict("self_only")
			RecordVerdict("self_only")
			So(testutil.ToFloat64(globalManager.verdicts.WithLabelValues("self_only")), ShouldEqual, before+2)
		})

		Convey("Gauges reflect the last value", func() {
			UpdateQueueSize(7)
			UpdateDedupeSize(42)
			UpdateTotalUsers(3)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
			So(testutil.ToFloat64(globalManager.dedupeSize), ShouldEqual, 42)
			So(testutil.ToFloat64(globalManager.totalUsers), ShouldEqual, 3)
		})

		Convey("Recording functions do not panic", func() {
			So(func() {
				RecordEventReceived("http")
				RecordEventIgnored("bot_message")
				RecordAttachmentRefetch("found")
				RecordPipelineLatency(12)
				RecordScoringFailure()
				RecordScoreDeltaApplied()
				RecordScoreWriteRetry()
				RecordScoreWriteError()
				UpdateFailedEvents(1)
				RecordStoreLatency("upsert", 1.5)
				UpdateQueueCapacity(10)
				RecordQueueEnqueue()
				RecordQueueEnqueueError()
				RecordQueueWaitLatency(3)
				UpdateWorkerCount(4)
				RecordWorkerError()
				RecordWorkerPanic()
				RecordHTTPRequest("/leaderboard", "GET", "200")
				RecordHTTPRequestDuration("/leaderboard", "GET", "200", 1)
				RecordSlackRequest("users.info", "ok", 20)
				RecordNotification("ok")
				RecordSocketReconnect()
				RecordDigestRun("ok")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
		})

		Convey("The custom registry is exposed", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
