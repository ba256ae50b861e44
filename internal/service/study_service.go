package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/kpi"
	"github.com/boddenberg/etudes-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var studyTracer = otel.Tracer("service/studies")

// StudyService handles the study list and its mutations. Reads come from
// the shared snapshot; writes go to the store and invalidate it.
type StudyService struct {
	store   port.StudyStore
	source  StudySource
	clock   kpi.Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewStudyService creates a new study service.
func NewStudyService(store port.StudyStore, source StudySource, clock kpi.Clock, metrics *observability.Metrics, logger *zap.Logger) *StudyService {
	if clock == nil {
		clock = time.Now
	}
	return &StudyService{store: store, source: source, clock: clock, metrics: metrics, logger: logger}
}

// List returns the studies matching filter, newest first.
func (s *StudyService) List(ctx context.Context, filter domain.StudyFilter) ([]domain.Study, error) {
	ctx, span := studyTracer.Start(ctx, "StudyService.List")
	defer span.End()

	rows, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if filter.IsZero() {
		return rows, nil
	}

	out := make([]domain.Study, 0, len(rows))
	for _, st := range rows {
		if filter.Matches(st) {
			out = append(out, st)
		}
	}
	span.SetAttributes(attribute.Int("studies.matched", len(out)))
	return out, nil
}

// Get reads one study from the store.
func (s *StudyService) Get(ctx context.Context, id string) (*domain.Study, error) {
	ctx, span := studyTracer.Start(ctx, "StudyService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id))

	return s.store.GetStudy(ctx, id)
}

// Create validates the request and stores the new study.
func (s *StudyService) Create(ctx context.Context, req *domain.CreateStudyRequest) (*domain.Study, error) {
	ctx, span := studyTracer.Start(ctx, "StudyService.Create")
	defer span.End()

	in, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	study, err := s.store.CreateStudy(ctx, in)
	if err != nil {
		s.logger.Error("failed to create study", zap.String("title", in.Title), zap.Error(err))
		return nil, err
	}
	s.source.Invalidate()

	s.logger.Info("study created",
		zap.String("study_id", study.ID),
		zap.String("status", string(study.Status)),
	)
	return study, nil
}

func validateCreate(req *domain.CreateStudyRequest) (*domain.NewStudy, error) {
	if req == nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "required"}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &domain.ErrValidation{Field: "title", Message: "le titre est requis"}
	}
	client := strings.TrimSpace(req.Client)
	if client == "" {
		return nil, &domain.ErrValidation{Field: "client", Message: "le client est requis"}
	}
	if req.Amount == nil {
		return nil, &domain.ErrValidation{Field: "amount", Message: "le montant est requis"}
	}
	amount := *req.Amount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "le montant doit être un nombre positif"}
	}

	status := domain.StatusInProgress
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	return &domain.NewStudy{Title: title, Client: client, Amount: &amount, Status: status}, nil
}

// UpdateStatus moves a study to another status. Setting the current status
// again is a no-op.
func (s *StudyService) UpdateStatus(ctx context.Context, id, rawStatus string) (*domain.Study, error) {
	ctx, span := studyTracer.Start(ctx, "StudyService.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id))

	status, err := domain.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	study, err := s.store.GetStudy(ctx, id)
	if err != nil {
		return nil, err
	}
	if study.Status == status {
		return study, nil
	}

	if err := s.store.UpdateStudyStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.source.Invalidate()

	s.logger.Info("study status updated",
		zap.String("study_id", id),
		zap.String("from", string(study.Status)),
		zap.String("to", string(status)),
	)
	study.Status = status
	return study, nil
}

// Delete removes a study.
func (s *StudyService) Delete(ctx context.Context, id string) error {
	ctx, span := studyTracer.Start(ctx, "StudyService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id))

	if err := s.store.DeleteStudy(ctx, id); err != nil {
		return err
	}
	s.source.Invalidate()

	s.logger.Info("study deleted", zap.String("study_id", id))
	return nil
}

// Overview builds the home screen figures from the current snapshot.
func (s *StudyService) Overview(ctx context.Context) (*domain.Overview, error) {
	ctx, span := studyTracer.Start(ctx, "StudyService.Overview")
	defer span.End()

	start := time.Now()
	rows, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ov := kpi.Overview(rows, s.clock())
	s.metrics.RecordRequestDuration("overview", time.Since(start))
	return ov, nil
}
