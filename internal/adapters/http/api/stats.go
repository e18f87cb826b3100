package api

import (
	"context"
	"net/http"
)

// StatsProvider reports runtime counters of the bot: queue depth, dedupe
// size, worker count, failed events and known users.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]interface{}
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleStats writes the current counters. Stats are advisory and never fail
// the request; a provider that cannot read the store leaves the key out.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.GetStats(r.Context())
	if stats == nil {
		stats = map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, stats)
}
