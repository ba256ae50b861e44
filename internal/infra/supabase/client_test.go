package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/supabase"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return supabase.NewClient(srv.Client(), srv.URL, "anon-key", "service-key",
		resilience.NewCircuitBreaker("supabase-test"), cfg, zap.NewNop())
}

func ptr(f float64) *float64 { return &f }

func TestListStudies_DecodesRows(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/etudes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("expected apikey header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("expected service bearer, got %q", got)
		}
		gotQuery = r.URL.RawQuery
		io.WriteString(w, `[
			{"id":"a1","titre":"Audit","statut":"livre","montant":"1500.50","client":"ACME","created_at":"2026-10-02T09:00:00+00:00"},
			{"id":42,"titre":null,"statut":"archived","montant":null,"client":null,"created_at":null},
			{"id":"c3","titre":"Etude","statut":null,"montant":300,"client":"Beta","created_at":"2026-09-01"},
			{"id":"d4","titre":"Bad","statut":"clos","montant":"n/a","client":"Gamma","created_at":"2026-08-01"}
		]`)
	})

	got, err := client.ListStudies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(gotQuery, "select=id,titre,statut,montant,client,created_at") ||
		!strings.Contains(gotQuery, "order=created_at.desc") {
		t.Errorf("unexpected query %q", gotQuery)
	}

	want := []domain.Study{
		{ID: "a1", Title: "Audit", Client: "ACME", Amount: ptr(1500.50), Status: domain.StatusDelivered, CreatedAt: "2026-10-02T09:00:00+00:00"},
		{ID: "42", Status: domain.StatusInProgress},
		{ID: "c3", Title: "Etude", Client: "Beta", Amount: ptr(300), Status: domain.StatusInProgress, CreatedAt: "2026-09-01"},
		{ID: "d4", Title: "Bad", Client: "Gamma", Status: domain.StatusClosed, CreatedAt: "2026-08-01"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("studies mismatch (-want +got):\n%s", diff)
	}
}

func TestListStudies_EmptyTable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})

	got, err := client.ListStudies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestListStudies_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"upstream"}`, http.StatusBadGateway)
			return
		}
		io.WriteString(w, `[{"id":"a1","titre":"Audit","statut":"clos"}]`)
	})

	got, err := client.ListStudies(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(got) != 1 || calls.Load() != 3 {
		t.Errorf("expected 1 study after 3 calls, got %d studies, %d calls", len(got), calls.Load())
	}
}

func TestListStudies_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"relation does not exist"}`, http.StatusBadRequest)
	})

	_, err := client.ListStudies(context.Background())
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestGetStudy_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "eq.missing" {
			t.Errorf("expected id filter, got %q", got)
		}
		io.WriteString(w, `[]`)
	})

	_, err := client.GetStudy(context.Background(), "missing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.ID != "missing" {
		t.Errorf("expected id missing, got %q", nf.ID)
	}
}

func TestCreateStudy_SendsPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("expected representation, got %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		want := map[string]any{"titre": "Audit", "statut": "en_cours", "montant": 1200.0, "client": "ACME"}
		if diff := cmp.Diff(want, body); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[{"id":"new-1","titre":"Audit","statut":"en_cours","montant":1200,"client":"ACME","created_at":"2026-10-19T10:00:00Z"}]`)
	})

	got, err := client.CreateStudy(context.Background(), &domain.NewStudy{Title: "Audit", Client: "ACME", Amount: ptr(1200)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "new-1" || got.Status != domain.StatusInProgress {
		t.Errorf("unexpected study %+v", got)
	}
}

func TestUpdateStudyStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.URL.Query().Get("id") == "eq.gone" {
			io.WriteString(w, `[]`)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["statut"] != "facture" {
			t.Errorf("expected statut facture, got %v", body)
		}
		io.WriteString(w, `[{"id":"a1"}]`)
	})

	if err := client.UpdateStudyStatus(context.Background(), "a1", domain.StatusInvoiced); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := client.UpdateStudyStatus(context.Background(), "gone", domain.StatusInvoiced)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteStudy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		io.WriteString(w, `[{"id":"a1"}]`)
	})

	if err := client.DeleteStudy(context.Background(), "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCircuitOpensOnRepeatedFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, _ = client.ListStudies(context.Background())
	}

	_, err := client.ListStudies(context.Background())
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestListDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/etude_documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `[
			{"etude_id":"a1","document":"devis","checked":true},
			{"etude_id":"a1","document":"rm","checked":false},
			{"etude_id":"a1","document":"unknown","checked":true}
		]`)
	})

	got, err := client.ListDocuments(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[domain.DocumentKey]bool{domain.DocumentQuote: true, domain.DocumentMissionRecap: false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
}

func TestSetDocument_Upserts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("on_conflict"); got != "etude_id,document" {
			t.Errorf("expected on_conflict, got %q", got)
		}
		if got := r.Header.Get("Prefer"); !strings.Contains(got, "resolution=merge-duplicates") {
			t.Errorf("expected merge-duplicates, got %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["etude_id"] != "a1" || body["document"] != "pvrf" || body["checked"] != true {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := client.WithTables("", "etude_documents").SetDocument(context.Background(), "a1", domain.DocumentFinalApproval, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
