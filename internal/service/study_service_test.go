package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/memory"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.uber.org/zap"
)

func amount(v float64) *float64 { return &v }

func sampleStudies() []domain.Study {
	return []domain.Study{
		{ID: "s1", Title: "Audit énergétique", Client: "Mairie", Amount: amount(1000), Status: domain.StatusInProgress, CreatedAt: "2026-10-02T09:00:00Z"},
		{ID: "s2", Title: "Étude de marché", Client: "ACME Industries", Amount: amount(2500), Status: domain.StatusDelivered, CreatedAt: "2026-09-15T09:00:00Z"},
		{ID: "s3", Title: "Traduction", Client: "Beta", Amount: nil, Status: domain.StatusClosed, CreatedAt: "2026-07-01T09:00:00Z"},
		{ID: "s4", Title: "Sondage", Client: "acme labs", Amount: amount(500), Status: domain.StatusInProgress, CreatedAt: "2026-05-20T09:00:00Z"},
	}
}

func newStudyService(t *testing.T, store *memory.Store) *service.StudyService {
	t.Helper()
	feed := newTestFeed(t, store)
	return service.NewStudyService(store, feed, fixedClock, observability.NewMetrics(), zap.NewNop())
}

func TestStudyService_ListFilters(t *testing.T) {
	svc := newStudyService(t, memory.New(sampleStudies()))
	ctx := context.Background()

	all, err := svc.List(ctx, domain.StudyFilter{})
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 studies, got %d (%v)", len(all), err)
	}

	tests := []struct {
		name   string
		filter domain.StudyFilter
		want   []string
	}{
		{"search client case-insensitive", domain.StudyFilter{Search: "ACME"}, []string{"s2", "s4"}},
		{"search title", domain.StudyFilter{Search: "énergé"}, []string{"s1"}},
		{"status only", domain.StudyFilter{Status: domain.StatusInProgress}, []string{"s1", "s4"}},
		{"search and status", domain.StudyFilter{Search: "acme", Status: domain.StatusDelivered}, []string{"s2"}},
		{"no match", domain.StudyFilter{Search: "zzz"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d studies", tt.want, len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestStudyService_CreateValidation(t *testing.T) {
	svc := newStudyService(t, memory.New(nil))

	tests := []struct {
		name  string
		req   *domain.CreateStudyRequest
		field string
	}{
		{"nil body", nil, "body"},
		{"missing title", &domain.CreateStudyRequest{Client: "A", Amount: amount(1)}, "title"},
		{"blank title", &domain.CreateStudyRequest{Title: "   ", Client: "A", Amount: amount(1)}, "title"},
		{"missing client", &domain.CreateStudyRequest{Title: "T", Amount: amount(1)}, "client"},
		{"missing amount", &domain.CreateStudyRequest{Title: "T", Client: "A"}, "amount"},
		{"negative amount", &domain.CreateStudyRequest{Title: "T", Client: "A", Amount: amount(-5)}, "amount"},
		{"unknown status", &domain.CreateStudyRequest{Title: "T", Client: "A", Amount: amount(5), Status: "archived"}, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			var ve *domain.ErrValidation
			if !errors.As(err, &ve) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestStudyService_CreateAppearsInList(t *testing.T) {
	store := memory.New(sampleStudies())
	svc := newStudyService(t, store)
	ctx := context.Background()

	if _, err := svc.List(ctx, domain.StudyFilter{}); err != nil {
		t.Fatal(err)
	}

	created, err := svc.Create(ctx, &domain.CreateStudyRequest{Title: " Nouvelle étude ", Client: "Gamma", Amount: amount(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Title != "Nouvelle étude" || created.Status != domain.StatusInProgress {
		t.Errorf("unexpected created study %+v", created)
	}

	got, err := svc.List(ctx, domain.StudyFilter{Search: "gamma"})
	if err != nil || len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("expected new study in list, got %v (%v)", got, err)
	}
}

func TestStudyService_UpdateStatus(t *testing.T) {
	store := memory.New(sampleStudies())
	svc := newStudyService(t, store)
	ctx := context.Background()

	var notifications atomic.Int32
	unsubscribe, _ := store.Subscribe(ctx, func() { notifications.Add(1) })
	defer unsubscribe()

	got, err := svc.UpdateStatus(ctx, "s1", "facture")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusInvoiced {
		t.Errorf("expected facture, got %s", got.Status)
	}

	if _, err := svc.UpdateStatus(ctx, "s1", "facture"); err != nil {
		t.Fatalf("unexpected error on no-op: %v", err)
	}
	if notifications.Load() != 1 {
		t.Errorf("expected a single store write, got %d", notifications.Load())
	}

	var ve *domain.ErrValidation
	if _, err := svc.UpdateStatus(ctx, "s1", "archived"); !errors.As(err, &ve) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	var nf *domain.ErrNotFound
	if _, err := svc.UpdateStatus(ctx, "missing", "clos"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStudyService_Delete(t *testing.T) {
	svc := newStudyService(t, memory.New(sampleStudies()))
	ctx := context.Background()

	if err := svc.Delete(ctx, "s2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var nf *domain.ErrNotFound
	if _, err := svc.Get(ctx, "s2"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, "s2"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStudyService_Overview(t *testing.T) {
	svc := newStudyService(t, memory.New(sampleStudies()))

	ov, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.TotalRevenue != 4000 || ov.TotalStudies != 4 || ov.StudiesInProgress != 2 {
		t.Errorf("unexpected totals %+v", ov)
	}
	if len(ov.Revenue) != 3 {
		t.Errorf("expected 3 revenue slices (amount > 0), got %d", len(ov.Revenue))
	}
	if len(ov.Recent) != 3 || ov.Recent[0].ID != "s1" {
		t.Errorf("expected 3 most recent starting with s1, got %+v", ov.Recent)
	}
}
