package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/memory"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.uber.org/zap"
)

type failingDocs struct{ err error }

func (f failingDocs) ListDocuments(_ context.Context, _ string) (map[domain.DocumentKey]bool, error) {
	return nil, f.err
}

func (f failingDocs) SetDocument(_ context.Context, _ string, _ domain.DocumentKey, _ bool) error {
	return f.err
}

func checkedKeys(cl *domain.Checklist) []domain.DocumentKey {
	var keys []domain.DocumentKey
	for _, d := range cl.Documents {
		if d.Checked {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

func TestChecklistService_GetDefaultsToUnchecked(t *testing.T) {
	store := memory.New(sampleStudies())
	svc := service.NewChecklistService(store, store, zap.NewNop())

	cl, err := svc.Get(context.Background(), "s2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cl.Documents) != 4 || cl.Completed != 0 || cl.Status != domain.StatusDelivered {
		t.Errorf("unexpected checklist %+v", cl)
	}
	if cl.Documents[0].Key != domain.DocumentQuote || cl.Documents[3].Key != domain.DocumentFinalApproval {
		t.Errorf("unexpected document order %+v", cl.Documents)
	}
}

func TestChecklistService_ToggleAndSet(t *testing.T) {
	store := memory.New(sampleStudies())
	svc := service.NewChecklistService(store, store, zap.NewNop())
	ctx := context.Background()

	cl, err := svc.Toggle(ctx, "s1", "ce")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys := checkedKeys(cl); len(keys) != 1 || keys[0] != domain.DocumentAgreement {
		t.Errorf("expected ce checked, got %v", keys)
	}

	if _, err := svc.Set(ctx, "s1", "pvrf", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cl, err = svc.Toggle(ctx, "s1", "ce")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys := checkedKeys(cl); len(keys) != 1 || keys[0] != domain.DocumentFinalApproval || cl.Completed != 1 {
		t.Errorf("expected only pvrf checked, got %v", keys)
	}

	reloaded, _ := svc.Get(ctx, "s1")
	if reloaded.Completed != 1 {
		t.Errorf("expected persisted state, got %+v", reloaded)
	}
}

func TestChecklistService_Errors(t *testing.T) {
	store := memory.New(sampleStudies())
	svc := service.NewChecklistService(store, store, zap.NewNop())
	ctx := context.Background()

	var ve *domain.ErrValidation
	if _, err := svc.Toggle(ctx, "s1", "facture"); !errors.As(err, &ve) {
		t.Errorf("expected ErrValidation for unknown document, got %v", err)
	}

	var nf *domain.ErrNotFound
	if _, err := svc.Get(ctx, "missing"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound for unknown study, got %v", err)
	}

	broken := service.NewChecklistService(store, failingDocs{err: errors.New("down")}, zap.NewNop())
	if _, err := broken.Get(ctx, "s1"); err == nil {
		t.Error("expected error from document store")
	}
}
