package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/spotted/internal/domain/attachment"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/internal/domain/scoring"
	"github.com/okian/spotted/internal/domain/spot"
	"github.com/okian/spotted/internal/telemetry"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

const tracerName = "github.com/okian/spotted/internal/app"

// Pipeline runs one message event through attachment resolution,
// classification, scoring and notification.
type Pipeline struct {
	resolver   *attachment.Resolver
	classifier *spot.Classifier
	engine     *scoring.Engine
	notifier   Notifier
	ledger     *FailedLedger
	now        func() time.Time
	log        logger.Logger
}

// NewPipeline wires the pipeline stages. A nil notifier disables replies.
func NewPipeline(resolver *attachment.Resolver, classifier *spot.Classifier, engine *scoring.Engine,
	notifier Notifier, ledger *FailedLedger, log logger.Logger,
) *Pipeline {
	if ledger == nil {
		ledger = NewFailedLedger(defaultLedgerSize)
	}
	if log == nil {
		log = logger.Get().Named("pipeline")
	}
	return &Pipeline{
		resolver:   resolver,
		classifier: classifier,
		engine:     engine,
		notifier:   notifier,
		ledger:     ledger,
		now:        time.Now,
		log:        log,
	}
}

// Handle implements worker.Handler.
func (p *Pipeline) Handle(ctx context.Context, ev model.MessageEvent) error { //nolint:gocritic // hugeParam: events are values
	_, err := p.Process(ctx, ev)
	return err
}

// Process returns the verdict for ev and applies its deltas when it is a
// spot. A returned error means the spot was confirmed but not fully scored;
// the event is then in the failed ledger.
func (p *Pipeline) Process(ctx context.Context, ev model.MessageEvent) (model.SpotVerdict, error) { //nolint:gocritic // hugeParam: events are values
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "spot.process",
		attribute.String("event_id", ev.EventID),
		attribute.String("delivery_id", ev.DeliveryID),
		attribute.String("channel_id", ev.ChannelID),
	)
	defer func() {
		span.End()
		metrics.RecordPipelineLatency(float64(time.Since(start).Milliseconds()))
	}()

	attachments := p.resolver.Resolve(ctx, ev)
	v := p.classifier.Classify(ctx, ev, attachments)
	metrics.RecordVerdict(string(v.Reason))
	span.SetAttributes(
		attribute.String("verdict", string(v.Reason)),
		attribute.Bool("is_spot", v.IsSpot),
		attribute.Int("targets", len(v.TargetIDs)),
	)

	if !v.IsSpot {
		p.log.Debug(ctx, "not a spot",
			logger.String("event_id", ev.EventID),
			logger.String("reason", string(v.Reason)))
		return v, nil
	}

	applied, err := p.engine.Apply(ctx, v)
	if err != nil {
		p.recordFailure(ctx, ev, v, applied, err)
		telemetry.RecordError(span, err)
		return v, fmt.Errorf("score spot %s: %w", ev.EventID, err)
	}

	p.log.Info(ctx, "spot scored",
		logger.String("event_id", ev.EventID),
		logger.String("actor_id", v.ActorID),
		logger.Strings("target_ids", v.TargetIDs))
	p.notify(ctx, ev, v)
	return v, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, ev model.MessageEvent, v model.SpotVerdict, applied []model.ScoreDelta, err error) { //nolint:gocritic // hugeParam: events are values
	metrics.RecordScoringFailure()

	var pending []model.ScoreDelta
	var ae *scoring.ApplyError
	if errors.As(err, &ae) {
		pending = ae.Failed
	} else {
		pending = scoring.Deltas(v)[len(applied):]
	}

	p.ledger.Record(model.FailedEvent{
		EventID:   ev.EventID,
		ChannelID: ev.ChannelID,
		MessageTS: ev.MessageTS,
		ActorID:   v.ActorID,
		Pending:   pending,
		Applied:   applied,
		Error:     err.Error(),
		FailedAt:  p.now(),
	})
	p.log.Error(ctx, "failed to score spot",
		logger.String("event_id", ev.EventID),
		logger.Int("applied", len(applied)),
		logger.Int("pending", len(pending)),
		logger.Error(err))
}

func (p *Pipeline) notify(ctx context.Context, ev model.MessageEvent, v model.SpotVerdict) { //nolint:gocritic // hugeParam: events are values
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PostMessage(ctx, ev.ChannelID, ev.MessageTS, spotMessage(v)); err != nil {
		metrics.RecordNotification("error")
		p.log.Warn(ctx, "spot notification failed",
			logger.String("event_id", ev.EventID),
			logger.Error(err))
		return
	}
	metrics.RecordNotification("sent")
}
