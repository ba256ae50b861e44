package handler

import (
	"net/http"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Documents checklist: /v1/studies/{studyId}/documents
// ============================================================

func getChecklistHandler(svc *service.ChecklistService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/studies/{studyId}/documents")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		span.SetAttributes(attribute.String("study.id", studyID))

		checklist, err := svc.Get(ctx, studyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, checklist)
	}
}

func toggleDocumentHandler(svc *service.ChecklistService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/studies/{studyId}/documents/{document}/toggle")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		document := chi.URLParam(r, "document")
		span.SetAttributes(attribute.String("study.id", studyID), attribute.String("document", document))

		checklist, err := svc.Toggle(ctx, studyID, document)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, checklist)
	}
}

func setDocumentHandler(svc *service.ChecklistService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/studies/{studyId}/documents/{document}")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		document := chi.URLParam(r, "document")
		span.SetAttributes(attribute.String("study.id", studyID), attribute.String("document", document))

		var req domain.SetDocumentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		checklist, err := svc.Set(ctx, studyID, document, req.Checked)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, checklist)
	}
}
