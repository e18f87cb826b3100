package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/okian/spotted/internal/adapters/mq/queue"
	"github.com/okian/spotted/internal/adapters/slack"
	"github.com/okian/spotted/pkg/logger"
)

// maxEventBody bounds the Events API payload; Slack callbacks are small.
const maxEventBody = 1 << 20

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// SlackEventsHandler receives the Slack Events API webhook.
type SlackEventsHandler struct {
	deps   EnvelopeHandler
	secret string
	now    func() time.Time
	log    logger.Logger
}

// NewSlackEventsHandler creates the webhook handler. Without a secret every
// request is refused, since nothing could be verified.
func NewSlackEventsHandler(deps EnvelopeHandler, secret string, now func() time.Time, log logger.Logger) *SlackEventsHandler {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &SlackEventsHandler{deps: deps, secret: secret, now: now, log: log}
}

// HandleEvents handles POST /slack/events requests. The event is only
// queued here; Slack gets its acknowledgement before any attachment wait.
func (h *SlackEventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.slack_events"

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if h.secret == "" {
		writeError(w, http.StatusForbidden, "events_disabled", NewKind(op, ErrUnauthorized))
		return
	}
	if err := slack.VerifySignature(h.secret, r.Header, body, h.now()); err != nil {
		h.log.Warn(r.Context(), "rejected slack request", logger.Error(err))
		writeError(w, http.StatusUnauthorized, "unauthorized", WrapKind(op, ErrUnauthorized, err))
		return
	}

	env, err := slack.ParseEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	switch env.Type {
	case slack.TypeURLVerification:
		writeJSON(w, http.StatusOK, challengeResponse{Challenge: env.Challenge})
		return
	case slack.TypeEventCallback:
	default:
		writeJSON(w, http.StatusOK, ackResponse{Status: "ignored"})
		return
	}

	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		h.log.Debug(r.Context(), "slack redelivery",
			logger.String("delivery_id", env.EventID),
			logger.String("retry_num", retry),
			logger.String("retry_reason", r.Header.Get("X-Slack-Retry-Reason")))
	}

	if err := h.deps.HandleEnvelope(r.Context(), env, "http"); err != nil {
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "accepted"})
}
