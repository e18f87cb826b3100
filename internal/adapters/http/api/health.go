package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/spotted/internal/domain/types"
	"github.com/okian/spotted/pkg/metrics"
)

// HealthChecker reports dependency health.
type HealthChecker interface {
	Health(ctx context.Context) types.Health
}

type healthResponse struct {
	Status string `json:"status"`
	types.Health
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// HandleHealth handles GET /health. It answers 503 when the store is down.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.checker.Health(r.Context())
	resp := healthResponse{Status: "healthy", Health: health}
	status := http.StatusOK
	if !health.StoreConnected {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// HandleMetrics handles GET /healthz requests with the Prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
