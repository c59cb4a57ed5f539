package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/pkg/api/handlers"
	"github.com/cnabflow/cnabflow/pkg/pipeline"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// apiTimeout bounds JSON API requests. The upload route is exempt: multipart
// bodies can stream for longer than any sane request timeout.
const apiTimeout = 30 * time.Second

// Deps carries the collaborators the router hands to its handlers.
type Deps struct {
	Store *store.Store
	Queue *queue.Queue

	// Intake accepts POST /api/v1/transactions/upload.
	Intake *pipeline.Intake

	// Sweeper backs POST /api/v1/transactions/uploads/resume-all. May be nil
	// when recovery is disabled; the route then returns 503.
	Sweeper *pipeline.Sweeper

	// StuckTimeout is the default staleness window for the incomplete and
	// resume-all endpoints when the request does not carry timeoutMinutes.
	StuckTimeout time.Duration

	// MetricsRegistry, when set, exposes GET /metrics.
	MetricsRegistry *prometheus.Registry
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout on the JSON API routes (upload streams are exempt)
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/live - Liveness probe (alias)
//   - GET /health/ready - Readiness probe (pings database and Redis)
//   - POST /api/v1/transactions/upload - File intake
//   - GET /api/v1/transactions/uploads - Paged upload listing
//   - GET /api/v1/transactions/uploads/incomplete - Stuck uploads
//   - GET /api/v1/transactions/uploads/{id} - Upload detail
//   - POST /api/v1/transactions/uploads/{id}/resume - Re-enqueue one upload
//   - POST /api/v1/transactions/uploads/resume-all - Re-enqueue all stuck uploads
//   - DELETE /api/v1/transactions - Truncate processed transactions
//   - GET /metrics - Prometheus metrics (when a registry is configured)
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Errors on unknown routes and methods speak problem+json like the rest
	// of the API.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.NotFound(w, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Queue)
	uploadHandler := handlers.NewUploadHandler(deps.Store, deps.Queue, deps.Intake, deps.Sweeper, deps.StuckTimeout)
	transactionHandler := handlers.NewTransactionHandler(deps.Store)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/live", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	// Upload intake, outside the timeout wrapper
	r.Post("/api/v1/transactions/upload", uploadHandler.Upload)

	// JSON API routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))

		r.Route("/api/v1/transactions", func(r chi.Router) {
			r.Delete("/", transactionHandler.Clear)

			r.Route("/uploads", func(r chi.Router) {
				r.Get("/", uploadHandler.List)
				r.Get("/incomplete", uploadHandler.Incomplete)
				r.Post("/resume-all", uploadHandler.ResumeAll)
				r.Get("/{id}", uploadHandler.Get)
				r.Post("/{id}/resume", uploadHandler.Resume)
			})
		})
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.MetricsRegistry,
			promhttp.HandlerOpts{Registry: deps.MetricsRegistry},
		))
	}

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || path == "/health/live" || path == "/health/ready"
}

// requestLogger logs requests using the internal logger and seeds the request
// scoped LogContext so handler and pipeline logs carry the request ID.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		lc := logger.NewLogContext(requestID)
		lc.ClientIP = clientIP(r.RemoteAddr)
		ctx := logger.WithContext(r.Context(), lc)
		r = r.WithContext(ctx)

		logger.DebugCtx(ctx, "API request started",
			"method", r.Method,
			"path", r.URL.Path,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Healthcheck probes fire constantly in k8s; keep them out of INFO
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(ctx, "API request completed", logArgs...)
		} else {
			logger.InfoCtx(ctx, "API request completed", logArgs...)
		}
	})
}

// clientIP strips the port from a RemoteAddr, tolerating bare addresses.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
