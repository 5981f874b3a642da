package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the data store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the router exposes. Routes of a nil service are not mounted.
type Services struct {
	Opportunities *service.OpportunityService
	Pipelines     *service.PipelineService
	Scoring       *service.ScoringService
	StageRules    *service.StageRuleService
	Notifications *service.NotificationService
	Tokens        *service.TokenService
	Store         Pinger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, corsOrigins []string, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(svc.Store, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if svc.Tokens == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "auth not configured")
			}))
			return
		}
		r.Use(JWTAuthMiddleware(svc.Tokens, logger))

		r.Get("/metrics/automation", automationMetricsHandler(metrics))

		if svc.Opportunities != nil {
			r.Get("/opportunities", listOpportunitiesHandler(svc.Opportunities, logger))
			r.Post("/opportunities", createOpportunityHandler(svc.Opportunities, logger))
			r.Get("/opportunities/{id}", getOpportunityHandler(svc.Opportunities, logger))
			r.Patch("/opportunities/{id}", updateOpportunityHandler(svc.Opportunities, logger))
			r.Delete("/opportunities/{id}", deleteOpportunityHandler(svc.Opportunities, logger))
			r.Get("/opportunities/{id}/activities", listActivitiesHandler(svc.Opportunities, logger))
		}

		if svc.Pipelines != nil {
			r.Get("/pipelines", listPipelinesHandler(svc.Pipelines, logger))
			r.Post("/pipelines", createPipelineHandler(svc.Pipelines, logger))
			r.Get("/pipelines/{id}", getPipelineHandler(svc.Pipelines, logger))
		}

		if svc.Scoring != nil {
			r.Get("/scoring-rules", listScoringRulesHandler(svc.Scoring, logger))
			r.Post("/scoring-rules", createScoringRuleHandler(svc.Scoring, logger))
			r.Put("/scoring-rules/{id}", updateScoringRuleHandler(svc.Scoring, logger))
			r.Delete("/scoring-rules/{id}", deleteScoringRuleHandler(svc.Scoring, logger))
			r.Post("/scoring/recalculate", recalculateScoresHandler(svc.Scoring, logger))
		}

		if svc.StageRules != nil {
			r.Get("/stage-rules", listStageRulesHandler(svc.StageRules, logger))
			r.Put("/stage-rules", upsertStageRuleHandler(svc.StageRules, logger))
			r.Delete("/stage-rules/{id}", deleteStageRuleHandler(svc.StageRules, logger))
		}

		if svc.Notifications != nil {
			r.Get("/notifications", listNotificationsHandler(svc.Notifications, logger))
			r.Post("/notifications/{id}/read", markNotificationReadHandler(svc.Notifications, logger))
		}
	})

	return r
}

// ============================================================
// Operational
// ============================================================

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:    "healthy",
			Service:   observability.ServiceName,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func readyzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func automationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
