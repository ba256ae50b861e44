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
// Études: /v1/studies
// ============================================================

func listStudiesHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/studies")
		defer span.End()

		filter := domain.StudyFilter{Search: r.URL.Query().Get("search")}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := domain.ParseStatus(raw)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			filter.Status = status
		}

		studies, err := svc.List(ctx, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("studies.count", len(studies)))

		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Study]{Data: studies, Total: len(studies)})
	}
}

func createStudyHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/studies")
		defer span.End()

		var req domain.CreateStudyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		study, err := svc.Create(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("study.id", study.ID))

		w.Header().Set("Location", "/v1/studies/"+study.ID)
		writeJSON(w, http.StatusCreated, study)
	}
}

func getStudyHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/studies/{studyId}")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		span.SetAttributes(attribute.String("study.id", studyID))

		study, err := svc.Get(ctx, studyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, study)
	}
}

func updateStatusHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/studies/{studyId}/status")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		span.SetAttributes(attribute.String("study.id", studyID))

		var req domain.UpdateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		study, err := svc.UpdateStatus(ctx, studyID, req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, study)
	}
}

func deleteStudyHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/studies/{studyId}")
		defer span.End()

		studyID := chi.URLParam(r, "studyId")
		span.SetAttributes(attribute.String("study.id", studyID))

		if err := svc.Delete(ctx, studyID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "study deleted", ID: studyID})
	}
}

func overviewHandler(svc *service.StudyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/overview")
		defer span.End()

		overview, err := svc.Overview(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}
