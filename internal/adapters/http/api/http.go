// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/spotted/internal/adapters/repository"
	"github.com/okian/spotted/internal/adapters/slack"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/internal/domain/types"
	"github.com/okian/spotted/pkg/logger"
)

const defaultMaxLimit = 100

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EnvelopeHandler
	LeaderboardDependencies
	ScoreDependencies
	AdminDependencies
	HealthChecker
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Option configures the Server.
type Option func(*Server)

// WithSigningSecret enables Slack request signature checks.
func WithSigningSecret(secret string) Option {
	return func(s *Server) { s.signingSecret = secret }
}

// WithAdminToken enables the admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithMaxLimit caps the leaderboard limit parameter.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithClock sets the time source for signature freshness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server wires HTTP routes for the bot.
type Server struct {
	signingSecret string
	adminToken    string
	maxLimit      int
	now           func() time.Time
	log           logger.Logger

	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *SlackEventsHandler
	leaderboardHandler *LeaderboardHandler
	scoreHandler       *ScoreHandler
	adminHandler       *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{maxLimit: defaultMaxLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("api")
	}

	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.eventsHandler = NewSlackEventsHandler(deps, s.signingSecret, s.now, s.log)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.maxLimit)
	s.scoreHandler = NewScoreHandler(deps)
	s.adminHandler = NewAdminHandler(deps, s.log)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /slack/events", MetricsMiddleware(s.eventsHandler.HandleEvents, "slack_events"))
	mux.HandleFunc("GET /health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleMetrics, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /scores/{user_id}", MetricsMiddleware(s.scoreHandler.HandleGetScore, "scores"))

	admin := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(AdminAuth(s.adminToken, h), endpoint)
	}
	mux.HandleFunc("POST /admin/scores/{user_id}", admin(s.adminHandler.HandleSetScore, "admin_scores"))
	mux.HandleFunc("GET /admin/failed", admin(s.adminHandler.HandleListFailed, "admin_failed"))
	mux.HandleFunc("POST /admin/failed/{event_id}/replay", admin(s.adminHandler.HandleReplay, "admin_replay"))
}

// Handler returns the full route tree wrapped in the request-id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return RequestIDMiddleware(mux)
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound translates store misses to 404.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrNotFound)
}

// EnvelopeHandler accepts decoded Slack callbacks.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env slack.Envelope, transport string) error
}

// AdminDependencies are the operator-only operations.
type AdminDependencies interface {
	AdjustScore(ctx context.Context, userID string, delta int64) (model.UserScore, error)
	SetScore(ctx context.Context, userID, displayName string, score int64) (model.UserScore, error)
	FailedEvents() []model.FailedEvent
	Replay(ctx context.Context, eventID string) (model.FailedEvent, error)
}
