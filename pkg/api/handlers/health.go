package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// HealthCheckTimeout is the maximum time allowed for health check operations.
// This timeout applies to dependency pings to prevent a slow database or
// broker from blocking health probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

var errNotConfigured = errors.New("not configured")

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the server reach its database and Redis?
type HealthHandler struct {
	store     *store.Store
	queue     *queue.Queue
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
//
// Either dependency may be nil, in which case the readiness check reports it
// as unhealthy.
func NewHealthHandler(st *store.Store, q *queue.Queue) *HealthHandler {
	return &HealthHandler{
		store:     st,
		queue:     q,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health and GET /health/live - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "cnabflow",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// DependencyHealth reports the health of a single backing service.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Readiness handles GET /health/ready - readiness probe.
//
// Pings the database and Redis. Returns 200 OK when both respond, 503
// Service Unavailable when either is down or not configured.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	checks := []DependencyHealth{
		h.check(ctx, "database", h.pingStore),
		h.check(ctx, "redis", h.pingQueue),
	}

	allHealthy := true
	for _, c := range checks {
		if c.Status != "healthy" {
			allHealthy = false
		}
	}

	payload := map[string]any{"checks": checks}
	if allHealthy {
		WriteJSON(w, http.StatusOK, healthyResponse(payload))
	} else {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse(payload))
	}
}

func (h *HealthHandler) check(ctx context.Context, name string, ping func(context.Context) error) DependencyHealth {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	health := DependencyHealth{
		Name:    name,
		Latency: latency.String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	} else {
		health.Status = "healthy"
	}
	return health
}

func (h *HealthHandler) pingStore(ctx context.Context) error {
	if h.store == nil {
		return errNotConfigured
	}
	return h.store.HealthCheck(ctx)
}

func (h *HealthHandler) pingQueue(ctx context.Context) error {
	if h.queue == nil {
		return errNotConfigured
	}
	return h.queue.Ping(ctx)
}
