package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/spotted/internal/adapters/repository"
	service "github.com/okian/spotted/internal/app"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/internal/domain/scoring"
	"github.com/okian/spotted/pkg/logger"
)

// AdminAuth guards next with a bearer token. An empty token disables the
// route entirely.
func AdminAuth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.admin_auth"
		if token == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", NewKind(op, ErrUnauthorized))
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
			return
		}
		next(w, r)
	}
}

// scoreRequest either adds Delta or, when Score is set, overwrites.
type scoreRequest struct {
	Delta       *int64 `json:"delta"`
	Score       *int64 `json:"score"`
	DisplayName string `json:"display_name"`
}

type failedResponse struct {
	Count  int                 `json:"count"`
	Events []model.FailedEvent `json:"events"`
}

// AdminHandler serves operator routes.
type AdminHandler struct {
	deps AdminDependencies
	log  logger.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(deps AdminDependencies, log logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &AdminHandler{deps: deps, log: log}
}

// HandleSetScore handles POST /admin/scores/{user_id}.
func (h *AdminHandler) HandleSetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_set_score"

	userID := strings.TrimSpace(r.PathValue("user_id"))
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if (req.Delta == nil) == (req.Score == nil) {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("exactly one of delta or score is required")))
		return
	}

	var (
		row model.UserScore
		err error
	)
	if req.Score != nil {
		row, err = h.deps.SetScore(r.Context(), userID, req.DisplayName, *req.Score)
	} else {
		row, err = h.deps.AdjustScore(r.Context(), userID, *req.Delta)
	}
	if err != nil {
		if errors.Is(err, repository.ErrInvalidUser) || errors.Is(err, service.ErrInvalidDelta) {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	h.log.Info(r.Context(), "admin score change",
		logger.String("user_id", row.UserID),
		logger.Int64("score", row.Score),
		logger.String("request_id", w.Header().Get(HeaderRequestID)))
	writeJSON(w, http.StatusOK, row)
}

// HandleListFailed handles GET /admin/failed.
func (h *AdminHandler) HandleListFailed(w http.ResponseWriter, _ *http.Request) {
	events := h.deps.FailedEvents()
	writeJSON(w, http.StatusOK, failedResponse{Count: len(events), Events: events})
}

// HandleReplay handles POST /admin/failed/{event_id}/replay.
func (h *AdminHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_replay"

	eventID := r.PathValue("event_id")
	fe, err := h.deps.Replay(r.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFailedEventAbsent):
			writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
		case errors.Is(err, service.ErrReplayInProgress):
			writeError(w, http.StatusConflict, "replay_in_progress", Wrap(op, err))
		case errors.Is(err, scoring.ErrStoreWrite):
			writeJSON(w, http.StatusBadGateway, fe)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		}
		return
	}
	writeJSON(w, http.StatusOK, fe)
}
