package service

import (
	"context"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var checklistTracer = otel.Tracer("service/checklist")

// ChecklistService manages the contractual documents of each study.
type ChecklistService struct {
	studies port.StudyStore
	docs    port.ChecklistStore
	logger  *zap.Logger
}

// NewChecklistService creates a new checklist service.
func NewChecklistService(studies port.StudyStore, docs port.ChecklistStore, logger *zap.Logger) *ChecklistService {
	return &ChecklistService{studies: studies, docs: docs, logger: logger}
}

// Get returns the full checklist of a study. Documents never recorded are
// unchecked.
func (s *ChecklistService) Get(ctx context.Context, studyID string) (*domain.Checklist, error) {
	ctx, span := checklistTracer.Start(ctx, "ChecklistService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", studyID))

	var (
		study   *domain.Study
		checked map[domain.DocumentKey]bool
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		study, err = s.studies.GetStudy(gCtx, studyID)
		return err
	})
	g.Go(func() error {
		var err error
		checked, err = s.docs.ListDocuments(gCtx, studyID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return domain.NewChecklist(*study, checked), nil
}

// Toggle flips one document and returns the updated checklist.
func (s *ChecklistService) Toggle(ctx context.Context, studyID, rawDoc string) (*domain.Checklist, error) {
	ctx, span := checklistTracer.Start(ctx, "ChecklistService.Toggle")
	defer span.End()

	doc, err := domain.ParseDocumentKey(rawDoc)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}

	checked := true
	for _, d := range current.Documents {
		if d.Key == doc {
			checked = !d.Checked
		}
	}
	return s.set(ctx, current, doc, checked)
}

// Set records the checked state of one document.
func (s *ChecklistService) Set(ctx context.Context, studyID, rawDoc string, checked bool) (*domain.Checklist, error) {
	ctx, span := checklistTracer.Start(ctx, "ChecklistService.Set")
	defer span.End()

	doc, err := domain.ParseDocumentKey(rawDoc)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return s.set(ctx, current, doc, checked)
}

func (s *ChecklistService) set(ctx context.Context, current *domain.Checklist, doc domain.DocumentKey, checked bool) (*domain.Checklist, error) {
	if err := s.docs.SetDocument(ctx, current.StudyID, doc, checked); err != nil {
		s.logger.Error("failed to update document",
			zap.String("study_id", current.StudyID),
			zap.String("document", string(doc)),
			zap.Error(err),
		)
		return nil, err
	}

	state := make(map[domain.DocumentKey]bool, len(current.Documents))
	for _, d := range current.Documents {
		state[d.Key] = d.Checked
	}
	state[doc] = checked

	s.logger.Info("document updated",
		zap.String("study_id", current.StudyID),
		zap.String("document", string(doc)),
		zap.Bool("checked", checked),
	)
	return domain.NewChecklist(domain.Study{ID: current.StudyID, Status: current.Status}, state), nil
}
