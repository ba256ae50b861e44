package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps groups the services exposed over HTTP. Ping checks the data
// backend for /healthz and is optional.
type Deps struct {
	Studies   *service.StudyService
	Dashboard *service.DashboardService
	Checklist *service.ChecklistService
	Feed      *service.Feed
	Ping      func(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the études web and mobile clients.
func NewRouter(deps Deps, metrics *observability.Metrics, logger *zap.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(RequestMetrics(metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Ping, logger))
	r.Get("/readyz", readyzHandler(deps.Feed))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Études
		// =============================================
		r.Get("/studies", listStudiesHandler(deps.Studies, logger))
		r.Post("/studies", createStudyHandler(deps.Studies, logger))
		r.Get("/studies/stream", streamHandler(deps.Feed, deps.Dashboard, logger))
		r.Get("/studies/{studyId}", getStudyHandler(deps.Studies, logger))
		r.Put("/studies/{studyId}/status", updateStatusHandler(deps.Studies, logger))
		r.Delete("/studies/{studyId}", deleteStudyHandler(deps.Studies, logger))

		// =============================================
		// 2. Documents checklist
		// =============================================
		r.Get("/studies/{studyId}/documents", getChecklistHandler(deps.Checklist, logger))
		r.Post("/studies/{studyId}/documents/{document}/toggle", toggleDocumentHandler(deps.Checklist, logger))
		r.Put("/studies/{studyId}/documents/{document}", setDocumentHandler(deps.Checklist, logger))

		// =============================================
		// 3. Home & KPIs
		// =============================================
		r.Get("/overview", overviewHandler(deps.Studies, logger))
		r.Get("/kpis", kpisHandler(deps.Dashboard, logger))
		r.Get("/kpis/status-distribution", statusDistributionHandler(deps.Dashboard, logger))
		r.Get("/kpis/monthly", monthlyHandler(deps.Dashboard, logger))

		// =============================================
		// 4. Metrics
		// =============================================
		r.Get("/metrics/feed", feedMetricsHandler(deps.Feed))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(ping func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()

			start := time.Now()
			err := ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				logger.Warn("healthz: backend check failed", zap.Error(err))
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "supabase", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler reports ready once the feed holds a first snapshot.
func readyzHandler(feed *service.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if feed != nil && !feed.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "warming_up"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func feedMetricsHandler(feed *service.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, feed.Stats())
	}
}
