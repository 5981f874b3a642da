package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/handler"
	"github.com/varejoflow/crm-automation/internal/infra/cache"
	"github.com/varejoflow/crm-automation/internal/infra/memstore"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "router-test-secret"
	testIssuer = "crm-test"
	companyA   = "company-a"
	companyB   = "company-b"
	managerID  = "user-manager"
	assigneeID = "user-assignee"
)

type testEnv struct {
	router  http.Handler
	store   *memstore.Store
	tokens  *service.TokenService
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := memstore.New()

	stageCache := cache.New[*domain.StageRule](time.Minute)
	t.Cleanup(stageCache.Close)

	notifier := service.NewNotificationService(store, nil, 4, metrics, logger)
	stageRules := service.NewStageRuleService(store, store, store, notifier, stageCache, metrics, logger)
	tokens := service.NewTokenService(testSecret, testIssuer, time.Hour, logger)

	svc := handler.Services{
		Opportunities: service.NewOpportunityService(store, store, stageRules, notifier, metrics, logger),
		Pipelines:     service.NewPipelineService(store, logger),
		Scoring:       service.NewScoringService(store, store, 4, metrics, logger),
		StageRules:    stageRules,
		Notifications: notifier,
		Tokens:        tokens,
		Store:         store,
	}
	return &testEnv{
		router:  handler.NewRouter(svc, []string{"*"}, metrics, logger),
		store:   store,
		tokens:  tokens,
		metrics: metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path, companyID, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if companyID != "" {
		token, err := e.tokens.IssueAccessToken(userID, companyID, "manager")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type list[T any] struct {
	Data []T `json:"data"`
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(handler.Services{}, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(handler.Services{}, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyz_StoreDown(t *testing.T) {
	router := handler.NewRouter(handler.Services{Store: failingPinger{}}, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.IncrStageRule("matched")
	router := handler.NewRouter(handler.Services{}, nil, metrics, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crm_stage_rules_total")
}

func TestV1_WithoutTokenServiceIsUnavailable(t *testing.T) {
	router := handler.NewRouter(handler.Services{}, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/opportunities", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ============================================================
// Auth
// ============================================================

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/opportunities", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/opportunities", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := service.NewTokenService("another-secret", testIssuer, time.Hour, zap.NewNop())
	token, err := other.IssueAccessToken(managerID, companyA, "")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/opportunities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================
// Opportunities
// ============================================================

func TestCreateOpportunity_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/opportunities", companyA, managerID, map[string]any{
		"name":        " ",
		"probability": 140,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}](t, rec)
	fields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"name", "probability"}, fields)
}

func TestCreateOpportunity_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/opportunities", bytes.NewBufferString("{"))
	token, err := env.tokens.IssueAccessToken(managerID, companyA, "")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpportunities_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/opportunities", companyA, managerID, map[string]any{"name": "Rede Sul"})
	require.Equal(t, http.StatusCreated, rec.Code)
	opp := decode[domain.Opportunity](t, rec)
	assert.Equal(t, companyA, opp.CompanyID)

	rec = env.do(t, http.MethodGet, "/v1/opportunities/"+opp.ID, companyB, managerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/opportunities", companyB, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[list[domain.Opportunity]](t, rec).Data)

	rec = env.do(t, http.MethodDelete, "/v1/opportunities/"+opp.ID, companyB, managerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/opportunities/"+opp.ID, companyA, managerID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListOpportunities_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/opportunities?order=password", companyA, managerID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestStageAutomationFlow walks an opportunity into a stage with a rule and
// checks every effect through the API.
func TestStageAutomationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.AddMember(ctx, domain.CompanyMember{CompanyID: companyA, UserID: managerID, Email: "gerente@loja.com"}))
	require.NoError(t, env.store.AddMember(ctx, domain.CompanyMember{CompanyID: companyA, UserID: assigneeID, Email: "vendas@loja.com"}))

	rec := env.do(t, http.MethodPost, "/v1/pipelines", companyA, managerID, map[string]any{
		"name":   "Vendas",
		"stages": []string{"lead", "proposta", "ganho"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	pipeline := decode[domain.Pipeline](t, rec)

	rec = env.do(t, http.MethodPut, "/v1/stage-rules", companyA, managerID, map[string]any{
		"pipeline_id":          pipeline.ID,
		"stage":                "proposta",
		"sla_days":             5,
		"reminder_days_before": 2,
		"auto_assign_owner_id": assigneeID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/opportunities", companyA, managerID, map[string]any{
		"name":        "Rede Sul",
		"pipeline_id": pipeline.ID,
		"stage":       "lead",
		"value":       12000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	opp := decode[domain.Opportunity](t, rec)
	assert.Nil(t, opp.SLADueAt)
	assert.Nil(t, opp.OwnerID)

	before := time.Now()
	rec = env.do(t, http.MethodPatch, "/v1/opportunities/"+opp.ID, companyA, managerID, map[string]any{"stage": "proposta"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[domain.Opportunity](t, rec)

	require.NotNil(t, updated.OwnerID)
	assert.Equal(t, assigneeID, *updated.OwnerID)
	require.NotNil(t, updated.SLADueAt)
	assert.WithinDuration(t, before.Add(5*24*time.Hour), *updated.SLADueAt, time.Minute)

	rec = env.do(t, http.MethodGet, "/v1/opportunities/"+opp.ID+"/activities", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activities := decode[list[domain.Activity]](t, rec).Data
	require.Len(t, activities, 1)
	assert.Equal(t, domain.ActivityTask, activities[0].Type)
	require.NotNil(t, activities[0].DueAt)
	assert.WithinDuration(t, before.Add(3*24*time.Hour), *activities[0].DueAt, time.Minute)

	rec = env.do(t, http.MethodGet, "/v1/notifications", companyA, assigneeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[list[domain.Notification]](t, rec).Data
	types := make([]domain.NotificationType, 0, len(inbox))
	for _, n := range inbox {
		types = append(types, n.Type)
	}
	assert.ElementsMatch(t, []domain.NotificationType{
		domain.NotifyAutoAssign,
		domain.NotifySLAAssigned,
		domain.NotifyReminderCreated,
	}, types)

	rec = env.do(t, http.MethodPost, "/v1/notifications/"+inbox[0].ID+"/read", companyA, assigneeID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/notifications?unread=true", companyA, assigneeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[list[domain.Notification]](t, rec).Data, 2)

	rec = env.do(t, http.MethodPost, "/v1/notifications/"+inbox[0].ID+"/read", companyA, managerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/metrics/automation", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[domain.AutomationMetrics](t, rec)
	assert.Equal(t, float64(1), snapshot.StageRulesMatched)
	assert.Equal(t, float64(3), snapshot.NotificationsSent)
}

// ============================================================
// Scoring
// ============================================================

func TestScoringRulesAndRecalculate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/scoring-rules", companyA, managerID, map[string]any{
		"field": "value", "operator": "gte", "value": "10000", "points": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decode[domain.ScoringRule](t, rec)
	assert.True(t, rule.Active)

	rec = env.do(t, http.MethodPost, "/v1/scoring-rules", companyA, managerID, map[string]any{
		"field": "tags", "operator": "gt", "value": "vip", "points": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, v := range []float64{5000, 25000} {
		rec = env.do(t, http.MethodPost, "/v1/opportunities", companyA, managerID, map[string]any{"name": "deal", "value": v})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/scoring/recalculate", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[domain.RecalcResult](t, rec)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Updated)

	rec = env.do(t, http.MethodGet, "/v1/opportunities?order=score_total&direction=asc", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	opps := decode[list[domain.Opportunity]](t, rec).Data
	require.Len(t, opps, 2)
	assert.Equal(t, 0, *opps[0].ScoreTotal)
	assert.Equal(t, 30, *opps[1].ScoreTotal)

	rec = env.do(t, http.MethodPost, "/v1/scoring/recalculate", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[domain.RecalcResult](t, rec).Updated)

	rec = env.do(t, http.MethodPut, "/v1/scoring-rules/"+rule.ID, companyA, managerID, map[string]any{
		"field": "value", "operator": "gte", "value": "10000", "points": 30, "active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.ScoringRule](t, rec).Active)

	rec = env.do(t, http.MethodDelete, "/v1/scoring-rules/"+rule.ID, companyA, managerID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/scoring-rules", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[list[domain.ScoringRule]](t, rec).Data)
}

func TestStageRules_UpsertListDelete(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"pipeline_id": "p1", "stage": "proposta", "sla_days": 3}
	rec := env.do(t, http.MethodPut, "/v1/stage-rules", companyA, managerID, body)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[domain.StageRule](t, rec)

	body["sla_days"] = 7
	rec = env.do(t, http.MethodPut, "/v1/stage-rules", companyA, managerID, body)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[domain.StageRule](t, rec)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 7, *second.SLADays)

	rec = env.do(t, http.MethodGet, "/v1/stage-rules?pipeline_id=p1", companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[list[domain.StageRule]](t, rec).Data, 1)

	rec = env.do(t, http.MethodPut, "/v1/stage-rules", companyA, managerID, map[string]any{"pipeline_id": "p1", "stage": "proposta", "sla_days": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/stage-rules/"+first.ID, companyB, managerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/stage-rules/"+first.ID, companyA, managerID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPipelines(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/pipelines", companyA, managerID, map[string]any{
		"name": "Vendas", "stages": []string{"lead", "lead"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/pipelines", companyA, managerID, map[string]any{
		"name": "Vendas", "stages": []string{"lead", "ganho"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[domain.Pipeline](t, rec)

	rec = env.do(t, http.MethodGet, "/v1/pipelines/"+p.ID, companyA, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"lead", "ganho"}, decode[domain.Pipeline](t, rec).Stages)

	rec = env.do(t, http.MethodGet, "/v1/pipelines", companyB, managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[list[domain.Pipeline]](t, rec).Data)
}
