package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/kpi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var dashboardTracer = otel.Tracer("service/dashboard")

// Monthly series selectable on GET /v1/kpis/monthly.
const (
	MetricAmount = "amount"
	MetricCount  = "count"
)

// DashboardService computes KPI figures over the current snapshot.
type DashboardService struct {
	source  StudySource
	clock   kpi.Clock
	label   kpi.MonthLabeler
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDashboardService creates a dashboard service. label picks the month
// label format of the charts.
func NewDashboardService(source StudySource, clock kpi.Clock, label kpi.MonthLabeler, metrics *observability.Metrics, logger *zap.Logger) *DashboardService {
	if clock == nil {
		clock = time.Now
	}
	if label == nil {
		label = kpi.EnglishMonthLabel
	}
	return &DashboardService{source: source, clock: clock, label: label, metrics: metrics, logger: logger}
}

// Dashboard returns every figure of the KPI screen.
func (s *DashboardService) Dashboard(ctx context.Context) (*domain.Dashboard, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.Dashboard")
	defer span.End()

	rows, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	d := s.Build(rows)
	span.SetAttributes(attribute.Int("studies.count", d.KPIs.TotalCount))
	return d, nil
}

// Build computes a dashboard from rows with a single clock reading.
func (s *DashboardService) Build(rows []domain.Study) *domain.Dashboard {
	start := time.Now()
	d := kpi.Build(rows, s.clock(), s.label)
	s.metrics.RecordRequestDuration("kpis", time.Since(start))
	return d
}

// StatusDistribution returns the pie chart slices.
func (s *DashboardService) StatusDistribution(ctx context.Context) ([]domain.StatusSlice, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.StatusDistribution")
	defer span.End()

	rows, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return kpi.StatusDistribution(kpi.Compute(rows, s.clock()).ByStatus), nil
}

// Monthly returns one six-month series: "amount" (default) or "count".
func (s *DashboardService) Monthly(ctx context.Context, metric string) ([]domain.ChartPoint, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.Monthly")
	defer span.End()
	span.SetAttributes(attribute.String("metric", metric))

	var series func([]domain.Study, time.Time, kpi.MonthLabeler) []domain.ChartPoint
	switch metric {
	case "", MetricAmount:
		series = kpi.MonthlyAmount
	case MetricCount:
		series = kpi.MonthlyCount
	default:
		return nil, &domain.ErrValidation{Field: "metric", Message: fmt.Sprintf("must be amount or count (got %q)", metric)}
	}

	rows, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return series(rows, s.clock(), s.label), nil
}
