package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// socketEnvelope is one Socket Mode frame.
type socketEnvelope struct {
	EnvelopeID   string          `json:"envelope_id,omitempty"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	RetryAttempt int             `json:"retry_attempt,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// EnvelopeHandler receives every events_api payload after it was acked.
type EnvelopeHandler func(ctx context.Context, env Envelope)

// SocketClient receives events over Slack Socket Mode and reconnects on
// disconnects until its context ends.
type SocketClient struct {
	api        *Client
	handle     EnvelopeHandler
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	log        logger.Logger
}

// SocketOption configures a SocketClient.
type SocketOption func(*SocketClient)

// WithReconnectBackoff bounds the wait between reconnect attempts.
func WithReconnectBackoff(minWait, maxWait time.Duration) SocketOption {
	return func(s *SocketClient) {
		if minWait > 0 && maxWait >= minWait {
			s.minBackoff, s.maxBackoff = minWait, maxWait
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) SocketOption {
	return func(s *SocketClient) {
		if d != nil {
			s.dialer = d
		}
	}
}

// NewSocketClient creates a Socket Mode client using api to open connections.
func NewSocketClient(api *Client, handle EnvelopeHandler, opts ...SocketOption) *SocketClient {
	s := &SocketClient{
		api:        api,
		handle:     handle,
		dialer:     websocket.DefaultDialer,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		log:        api.log.Named("socket"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects and consumes frames until ctx is done.
func (s *SocketClient) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrNoAppToken) {
			return err
		}
		metrics.RecordSocketReconnect()
		if err != nil {
			s.log.Warn(ctx, "socket session ended", logger.Error(err), logger.Duration("retry_in", backoff))
		} else {
			backoff = s.minBackoff
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if err != nil {
			backoff = min(backoff*2, s.maxBackoff)
		}
	}
}

// session runs one websocket connection. A nil error means Slack asked us
// to reconnect.
func (s *SocketClient) session(ctx context.Context) error {
	url, err := s.api.OpenSocketURL(ctx)
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	s.log.Info(ctx, "socket connected")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read socket: %w", err)
		}
		var frame socketEnvelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Debug(ctx, "skipping undecodable frame", logger.Error(err))
			continue
		}
		if strings.TrimSpace(frame.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": frame.EnvelopeID}); err != nil {
				return fmt.Errorf("ack envelope: %w", err)
			}
		}

		switch frame.Type {
		case "hello":
			continue
		case "disconnect":
			s.log.Info(ctx, "socket disconnect requested", logger.String("reason", frame.Reason))
			return nil
		case "events_api":
			env, err := ParseEnvelope(frame.Payload)
			if err != nil {
				s.log.Warn(ctx, "bad events_api payload", logger.String("envelope_id", frame.EnvelopeID), logger.Error(err))
				continue
			}
			if env.EventID == "" {
				env.EventID = frame.EnvelopeID
			}
			s.handle(ctx, env)
		default:
			s.log.Debug(ctx, "ignoring socket frame", logger.String("type", frame.Type))
		}
	}
}
