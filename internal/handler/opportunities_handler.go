package handler

import (
	"net/http"
	"strings"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Opportunities
// ============================================================

type listResponse[T any] struct {
	Data     []T `json:"data"`
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

func listOpportunitiesHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/opportunities")
		defer span.End()

		companyID, _ := tenant(r)
		q := r.URL.Query()
		page, pageSize := parsePagination(r)
		filter := domain.OpportunityFilter{
			PipelineID: q.Get("pipeline_id"),
			Stage:      q.Get("stage"),
			OwnerID:    q.Get("owner_id"),
			Status:     q.Get("status"),
			Search:     strings.TrimSpace(q.Get("search")),
			Page:       page,
			PageSize:   pageSize,
			OrderBy:    q.Get("order"),
			Ascending:  strings.EqualFold(q.Get("direction"), "asc"),
		}

		opps, err := svc.List(ctx, companyID, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if opps == nil {
			opps = []domain.Opportunity{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.Opportunity]{Data: opps, Page: page, PageSize: pageSize})
	}
}

func createOpportunityHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/opportunities")
		defer span.End()

		var in domain.OpportunityInput
		if !decodeJSON(w, r, &in) {
			return
		}

		companyID, _ := tenant(r)
		opp, err := svc.Create(ctx, companyID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, opp)
	}
}

func getOpportunityHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/opportunities/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("opportunity.id", id))

		companyID, _ := tenant(r)
		opp, err := svc.Get(ctx, companyID, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	}
}

func updateOpportunityHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/opportunities/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("opportunity.id", id))

		var patch domain.OpportunityPatch
		if !decodeJSON(w, r, &patch) {
			return
		}

		companyID, _ := tenant(r)
		opp, err := svc.Update(ctx, companyID, id, &patch)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	}
}

func deleteOpportunityHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/opportunities/{id}")
		defer span.End()

		companyID, _ := tenant(r)
		if err := svc.Delete(ctx, companyID, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listActivitiesHandler(svc *service.OpportunityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/opportunities/{id}/activities")
		defer span.End()

		companyID, _ := tenant(r)
		activities, err := svc.ListActivities(ctx, companyID, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if activities == nil {
			activities = []domain.Activity{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.Activity]{Data: activities})
	}
}
