package handler

import (
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Scoring rules
// ============================================================

func listScoringRulesHandler(svc *service.ScoringService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/scoring-rules")
		defer span.End()

		companyID, _ := tenant(r)
		rules, err := svc.ListRules(ctx, companyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if rules == nil {
			rules = []domain.ScoringRule{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.ScoringRule]{Data: rules})
	}
}

func createScoringRuleHandler(svc *service.ScoringService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/scoring-rules")
		defer span.End()

		var in domain.ScoringRuleInput
		if !decodeJSON(w, r, &in) {
			return
		}

		companyID, _ := tenant(r)
		rule, err := svc.CreateRule(ctx, companyID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

func updateScoringRuleHandler(svc *service.ScoringService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/scoring-rules/{id}")
		defer span.End()

		var in domain.ScoringRuleInput
		if !decodeJSON(w, r, &in) {
			return
		}

		companyID, _ := tenant(r)
		rule, err := svc.UpdateRule(ctx, companyID, chi.URLParam(r, "id"), &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteScoringRuleHandler(svc *service.ScoringService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/scoring-rules/{id}")
		defer span.End()

		companyID, _ := tenant(r)
		if err := svc.DeleteRule(ctx, companyID, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// recalculateScoresHandler answers 207 when some score writes failed, so the
// caller still sees which opportunities were updated.
func recalculateScoresHandler(svc *service.ScoringService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/scoring/recalculate")
		defer span.End()

		companyID, _ := tenant(r)
		result, err := svc.RecalculateCompany(ctx, companyID)
		if err != nil {
			if result != nil && len(result.Failures) > 0 {
				logger.Warn("partial score recalculation",
					zap.String("company_id", companyID),
					zap.Int("failed", len(result.Failures)),
					zap.Error(err),
				)
				writeJSON(w, http.StatusMultiStatus, result)
				return
			}
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// Stage rules
// ============================================================

func listStageRulesHandler(svc *service.StageRuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/stage-rules")
		defer span.End()

		companyID, _ := tenant(r)
		rules, err := svc.ListRules(ctx, companyID, r.URL.Query().Get("pipeline_id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if rules == nil {
			rules = []domain.StageRule{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.StageRule]{Data: rules})
	}
}

func upsertStageRuleHandler(svc *service.StageRuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/stage-rules")
		defer span.End()

		var in domain.StageRuleInput
		if !decodeJSON(w, r, &in) {
			return
		}

		companyID, _ := tenant(r)
		rule, err := svc.UpsertRule(ctx, companyID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteStageRuleHandler(svc *service.StageRuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/stage-rules/{id}")
		defer span.End()

		companyID, _ := tenant(r)
		if err := svc.DeleteRule(ctx, companyID, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
