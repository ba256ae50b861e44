// Package memory is an in-process backend for études. It serves local
// development without a Supabase project and backs the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu      sync.Mutex
	studies []domain.Study // newest first
	docs    map[string]map[domain.DocumentKey]bool
	now     func() time.Time

	// listenMu is held for reading while listeners run, so Subscribe's
	// unsubscribe can wait for in-flight notifications.
	listenMu  sync.RWMutex
	listeners map[int]func()
	nextID    int
}

// New returns a store holding a copy of studies, newest first.
func New(studies []domain.Study) *Store {
	s := &Store{
		docs:      make(map[string]map[domain.DocumentKey]bool),
		now:       time.Now,
		listeners: make(map[int]func()),
	}
	for _, st := range studies {
		s.studies = append(s.studies, clone(st))
	}
	return s
}

// NewSeeded returns a store with a handful of demo studies spread over the
// last months relative to now. Studies created later use the wall clock.
func NewSeeded(now time.Time) *Store {
	day := func(monthsAgo, d int) string {
		t := time.Date(now.Year(), now.Month()-time.Month(monthsAgo), d, 10, 0, 0, 0, time.UTC)
		return t.Format(time.RFC3339)
	}
	amount := func(v float64) *float64 { return &v }

	return New([]domain.Study{
		{ID: uuid.NewString(), Title: "Étude de marché vélos cargo", Client: "Cyclo Lyon", Amount: amount(4200), Status: domain.StatusInProgress, CreatedAt: day(0, 2)},
		{ID: uuid.NewString(), Title: "Audit énergétique", Client: "Mairie de Villeurbanne", Amount: amount(7800), Status: domain.StatusDelivered, CreatedAt: day(1, 14)},
		{ID: uuid.NewString(), Title: "Application de réservation", Client: "Salle Pleyel", Amount: amount(12500), Status: domain.StatusInvoiced, CreatedAt: day(2, 8)},
		{ID: uuid.NewString(), Title: "Traduction technique", Client: "Hydro Alpes", Amount: amount(1600), Status: domain.StatusClosed, CreatedAt: day(4, 21)},
		{ID: uuid.NewString(), Title: "Sondage satisfaction", Client: "", Status: domain.StatusInProgress, CreatedAt: day(5, 3)},
	})
}

// WithClock sets the clock stamping new studies. Call it before the store
// is shared.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// ListStudies returns every study, newest first.
func (s *Store) ListStudies(_ context.Context) ([]domain.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Study, 0, len(s.studies))
	for _, st := range s.studies {
		out = append(out, clone(st))
	}
	return out, nil
}

// GetStudy returns one study.
func (s *Store) GetStudy(_ context.Context, id string) (*domain.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return nil, &domain.ErrNotFound{Resource: "study", ID: id}
	}
	st := clone(s.studies[i])
	return &st, nil
}

// CreateStudy stores a study with a fresh id and creation time.
func (s *Store) CreateStudy(_ context.Context, in *domain.NewStudy) (*domain.Study, error) {
	status := in.Status
	if status == "" {
		status = domain.StatusInProgress
	}
	st := domain.Study{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Client:    in.Client,
		Amount:    copyAmount(in.Amount),
		Status:    status,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	s.studies = append([]domain.Study{st}, s.studies...)
	s.mu.Unlock()

	s.notify()
	out := clone(st)
	return &out, nil
}

// UpdateStudyStatus sets the status of one study.
func (s *Store) UpdateStudyStatus(_ context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return &domain.ErrNotFound{Resource: "study", ID: id}
	}
	s.studies[i].Status = status
	s.mu.Unlock()

	s.notify()
	return nil
}

// DeleteStudy removes a study and its checklist.
func (s *Store) DeleteStudy(_ context.Context, id string) error {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return &domain.ErrNotFound{Resource: "study", ID: id}
	}
	s.studies = append(s.studies[:i], s.studies[i+1:]...)
	delete(s.docs, id)
	s.mu.Unlock()

	s.notify()
	return nil
}

// ListDocuments returns the stored checklist entries of a study.
func (s *Store) ListDocuments(_ context.Context, studyID string) (map[domain.DocumentKey]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.DocumentKey]bool, len(s.docs[studyID]))
	for k, v := range s.docs[studyID] {
		out[k] = v
	}
	return out, nil
}

// SetDocument records one checklist entry.
func (s *Store) SetDocument(_ context.Context, studyID string, doc domain.DocumentKey, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(studyID) < 0 {
		return &domain.ErrNotFound{Resource: "study", ID: studyID}
	}
	if s.docs[studyID] == nil {
		s.docs[studyID] = make(map[domain.DocumentKey]bool)
	}
	s.docs[studyID][doc] = checked
	return nil
}

// Subscribe registers onChange for every study mutation. onChange runs
// synchronously on the mutating goroutine and must not unsubscribe.
func (s *Store) Subscribe(_ context.Context, onChange func()) (func(), error) {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = onChange
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}, nil
}

func (s *Store) notify() {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	for _, fn := range s.listeners {
		fn()
	}
}

func (s *Store) index(id string) int {
	for i := range s.studies {
		if s.studies[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(st domain.Study) domain.Study {
	st.Amount = copyAmount(st.Amount)
	return st
}

func copyAmount(a *float64) *float64 {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}
