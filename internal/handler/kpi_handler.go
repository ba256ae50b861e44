package handler

import (
	"net/http"

	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// KPIs: /v1/kpis
// ============================================================

func kpisHandler(svc *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/kpis")
		defer span.End()

		dashboard, err := svc.Dashboard(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	}
}

func statusDistributionHandler(svc *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/kpis/status-distribution")
		defer span.End()

		slices, err := svc.StatusDistribution(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, slices)
	}
}

// monthlyHandler serves one series: ?metric=amount (default) or count.
func monthlyHandler(svc *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/kpis/monthly")
		defer span.End()

		metric := r.URL.Query().Get("metric")
		span.SetAttributes(attribute.String("metric", metric))

		points, err := svc.Monthly(ctx, metric)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}
