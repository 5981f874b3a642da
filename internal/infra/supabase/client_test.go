package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/infra/resilience"
	"github.com/varejoflow/crm-automation/internal/infra/supabase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return supabase.NewClient(
		srv.Client(),
		srv.URL,
		"anon-key",
		"service-key",
		resilience.NewCircuitBreaker("supabase-test", zap.NewNop()),
		cfg,
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func TestGetOpportunity_SendsTenantFiltersAndAuth(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/opportunities", r.URL.Path)
		assert.Equal(t, "eq.opp-1", r.URL.Query().Get("id"))
		assert.Equal(t, "eq.company-a", r.URL.Query().Get("company_id"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		_, _ = io.WriteString(w, `[{"id":"opp-1","company_id":"company-a","name":"Loja Centro","stage":"proposal","value":1500,"tags":["vip"],"created_at":"2026-01-02T10:00:00.000000+00:00","updated_at":"2026-01-02T10:00:00+00:00"}]`)
	})

	opp, err := c.GetOpportunity(context.Background(), "company-a", "opp-1")
	require.NoError(t, err)
	assert.Equal(t, "Loja Centro", opp.Name)
	assert.Equal(t, "proposal", *opp.Stage)
	assert.Equal(t, 1500.0, *opp.Value)
	assert.Equal(t, []string{"vip"}, opp.Tags)
}

func TestGetOpportunity_EmptyResultIsNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.GetOpportunity(context.Background(), "company-a", "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestListOpportunities_BuildsQuery(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.company-a", q.Get("company_id"))
		assert.Equal(t, "eq.pipe-1", q.Get("pipeline_id"))
		assert.Equal(t, "eq.won", q.Get("stage"))
		assert.Equal(t, "ilike.*centro*", q.Get("name"))
		assert.Equal(t, "value.asc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))
		_, _ = io.WriteString(w, `[]`)
	})

	rows, err := c.ListOpportunities(context.Background(), "company-a", domain.OpportunityFilter{
		PipelineID: "pipe-1",
		Stage:      "won",
		Search:     "centro",
		Page:       2,
		PageSize:   10,
		OrderBy:    "value",
		Ascending:  true,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	rows, err := c.ListPipelines(context.Background(), "company-a")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWrite_IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.UpdateOpportunity(context.Background(), "company-a", "opp-1", map[string]any{"stage": "won"})
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "supabase/opportunities", ext.Service)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdateOpportunity_SendsColumns(t *testing.T) {
	due := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-9", body["owner_id"])
		assert.Equal(t, "2026-03-10T12:00:00Z", body["sla_due_at"])

		_, _ = io.WriteString(w, `[{"id":"opp-1","company_id":"company-a","name":"X","owner_id":"user-9","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`)
	})

	opp, err := c.UpdateOpportunity(context.Background(), "company-a", "opp-1", map[string]any{
		"owner_id":   "user-9",
		"sla_due_at": due,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-9", *opp.OwnerID)
}

func TestUpsertStageRule_UsesConflictKey(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/crm_stage_rules", r.URL.Path)
		assert.Equal(t, "company_id,pipeline_id,stage", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, "resolution=merge-duplicates,return=representation", r.Header.Get("Prefer"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "auto_assign_owner_id")
		assert.Nil(t, body["auto_assign_owner_id"])

		_, _ = io.WriteString(w, `[{"id":"rule-1","company_id":"company-a","pipeline_id":"pipe-1","stage":"proposal","sla_days":5}]`)
	})

	sla := 5
	rule, err := c.UpsertStageRule(context.Background(), "company-a", &domain.StageRuleInput{
		PipelineID: "pipe-1",
		Stage:      "proposal",
		SLADays:    &sla,
	})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", rule.ID)
	assert.True(t, rule.HasSLA())
}

func TestFindStageRule_AbsentIsNil(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	rule, err := c.FindStageRule(context.Background(), "company-a", "pipe-1", "won")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestGetUsersToNotify_CallsRPC(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/rpc/get_users_to_notify", r.URL.Path)

		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "company-a", args["p_company_id"])
		assert.Equal(t, "crm_stage_changed", args["p_notification_type"])

		_, _ = io.WriteString(w, `[{"user_id":"u1","email":"ana@loja.com","full_name":"Ana","email_enabled":true},{"user_id":"u2","email_enabled":false}]`)
	})

	targets, err := c.GetUsersToNotify(context.Background(), "company-a", domain.NotifyStageChanged)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.True(t, targets[0].WantsEmail())
	assert.False(t, targets[1].WantsEmail())
}

func TestCreateNotification_NotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateNotification(context.Background(), &domain.Notification{
		UserID:    "u1",
		CompanyID: "company-a",
		Type:      domain.NotifyAutoAssign,
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConflictStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505"}`)
	})

	_, err := c.CreatePipeline(context.Background(), "company-a", &domain.PipelineInput{Name: "Vendas", Stages: []string{"lead"}})
	var conflict *domain.ErrConflict
	assert.True(t, errors.As(err, &conflict))
}

func TestMissingRelation_IsExternalError(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"PGRST202","message":"Could not find the function"}`)
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		service string
		call    func() error
	}{
		{"create notification rpc", "supabase/rpc/create_notification", func() error {
			_, err := c.CreateNotification(ctx, &domain.Notification{UserID: "u1", CompanyID: "company-a", Type: domain.NotifyAutoAssign})
			return err
		}},
		{"users to notify rpc", "supabase/rpc/get_users_to_notify", func() error {
			_, err := c.GetUsersToNotify(ctx, "company-a", domain.NotifyStageChanged)
			return err
		}},
		{"user target rpc", "supabase/rpc/get_user_notification_target", func() error {
			_, err := c.GetUserNotificationTarget(ctx, "company-a", "u1", domain.NotifyStageChanged)
			return err
		}},
		{"scoring rules read", "supabase/crm_scoring_rules", func() error {
			_, err := c.ListScoringRules(ctx, "company-a", true)
			return err
		}},
		{"stage rule read", "supabase/crm_stage_rules", func() error {
			_, err := c.FindStageRule(ctx, "company-a", "pipe-1", "won")
			return err
		}},
		{"opportunity write", "supabase/opportunities", func() error {
			_, err := c.UpdateOpportunity(ctx, "company-a", "opp-1", map[string]any{"stage": "won"})
			return err
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls.Store(0)
			err := tc.call()
			var ext *domain.ErrExternalService
			require.ErrorAs(t, err, &ext)
			assert.Equal(t, tc.service, ext.Service)
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestClientErrors_DoNotOpenBreaker(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		_, err := c.ListPipelines(context.Background(), "company-a")
		var ext *domain.ErrExternalService
		require.ErrorAs(t, err, &ext, "attempt %d", i)
	}
}

func TestUpdateOpportunity_LeavesCallerColumnsUntouched(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{}, body["tags"])
		_, _ = io.WriteString(w, `[{"id":"opp-1","company_id":"company-a","name":"X","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`)
	})

	var tags []string
	cols := map[string]any{"tags": tags}
	_, err := c.UpdateOpportunity(context.Background(), "company-a", "opp-1", cols)
	require.NoError(t, err)
	assert.Nil(t, cols["tags"].([]string))
}

func TestListOpportunities_SearchIsLiteral(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `ilike.*loja\_centro 50*`, r.URL.Query().Get("name"))
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.ListOpportunities(context.Background(), "company-a", domain.OpportunityFilter{Search: "loja_centro 50%"})
	require.NoError(t, err)
}
