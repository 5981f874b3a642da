package handler

import (
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func listPipelinesHandler(svc *service.PipelineService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/pipelines")
		defer span.End()

		companyID, _ := tenant(r)
		pipelines, err := svc.List(ctx, companyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if pipelines == nil {
			pipelines = []domain.Pipeline{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.Pipeline]{Data: pipelines})
	}
}

func createPipelineHandler(svc *service.PipelineService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/pipelines")
		defer span.End()

		var in domain.PipelineInput
		if !decodeJSON(w, r, &in) {
			return
		}

		companyID, _ := tenant(r)
		p, err := svc.Create(ctx, companyID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func getPipelineHandler(svc *service.PipelineService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/pipelines/{id}")
		defer span.End()

		companyID, _ := tenant(r)
		p, err := svc.Get(ctx, companyID, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
