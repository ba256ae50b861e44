// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the Supabase and in-memory adapters.
package port

import (
	"context"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
)

// StudyLister yields the full current set of studies.
type StudyLister interface {
	ListStudies(ctx context.Context) ([]domain.Study, error)
}

// StudyStore defines all data operations on études.
type StudyStore interface {
	StudyLister
	GetStudy(ctx context.Context, id string) (*domain.Study, error)
	CreateStudy(ctx context.Context, study *domain.NewStudy) (*domain.Study, error)
	UpdateStudyStatus(ctx context.Context, id string, status domain.Status) error
	DeleteStudy(ctx context.Context, id string) error
}

// ChecklistStore persists the document checklist of each study.
type ChecklistStore interface {
	ListDocuments(ctx context.Context, studyID string) (map[domain.DocumentKey]bool, error)
	SetDocument(ctx context.Context, studyID string, doc domain.DocumentKey, checked bool) error
}

// ChangeSubscriber notifies onChange whenever the study table changes.
// The returned function stops the subscription; onChange is not called
// after it returns.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, onChange func()) (unsubscribe func(), err error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
