package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/infra/pgstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newStore(t *testing.T) *pgstore.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := pgstore.New(db, observability.NewMetrics(), zap.NewNop())
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func TestOpportunity_CreateGetUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opp, err := s.CreateOpportunity(ctx, "company-a", &domain.OpportunityInput{
		Name:       "  Loja Centro ",
		PipelineID: ptr("pipe-1"),
		Stage:      ptr("lead"),
		Value:      ptr(1200.0),
		Tags:       []string{"vip", "varejo"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, opp.ID)
	assert.Equal(t, "Loja Centro", opp.Name)

	got, err := s.GetOpportunity(ctx, "company-a", opp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "varejo"}, got.Tags)
	assert.Nil(t, got.OwnerID)

	due := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	updated, err := s.UpdateOpportunity(ctx, "company-a", opp.ID, map[string]any{
		"owner_id":   "user-1",
		"sla_due_at": due,
		"tags":       []string{"vip"},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", *updated.OwnerID)
	assert.True(t, due.Equal(*updated.SLADueAt))
	assert.Equal(t, []string{"vip"}, updated.Tags)
}

func TestOpportunity_TenantIsolation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opp, err := s.CreateOpportunity(ctx, "company-a", &domain.OpportunityInput{Name: "A"})
	require.NoError(t, err)

	_, err = s.GetOpportunity(ctx, "company-b", opp.ID)
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)

	_, err = s.UpdateOpportunity(ctx, "company-b", opp.ID, map[string]any{"name": "B"})
	assert.ErrorAs(t, err, &nf)

	assert.ErrorAs(t, s.DeleteOpportunity(ctx, "company-b", opp.ID), &nf)
}

func TestListOpportunities_FilterSearchPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, name := range []string{"Loja Centro", "Loja Norte", "Mercado Sul"} {
		_, err := s.CreateOpportunity(ctx, "company-a", &domain.OpportunityInput{
			Name:  name,
			Stage: ptr("lead"),
			Value: ptr(float64(100 * (i + 1))),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateOpportunity(ctx, "company-b", &domain.OpportunityInput{Name: "Loja Outra"})
	require.NoError(t, err)

	rows, err := s.ListOpportunities(ctx, "company-a", domain.OpportunityFilter{Search: "LOJA", OrderBy: "value", Ascending: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Loja Centro", rows[0].Name)
	assert.Equal(t, "Loja Norte", rows[1].Name)

	page2, err := s.ListOpportunities(ctx, "company-a", domain.OpportunityFilter{Page: 2, PageSize: 2, OrderBy: "value"})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "Loja Centro", page2[0].Name)

	all, err := s.ListAllOpportunities(ctx, "company-a")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateOpportunityScore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opp, err := s.CreateOpportunity(ctx, "company-a", &domain.OpportunityInput{Name: "A"})
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, s.UpdateOpportunityScore(ctx, "company-a", opp.ID, 35, at))

	got, err := s.GetOpportunity(ctx, "company-a", opp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ScoreTotal)
	assert.Equal(t, 35, *got.ScoreTotal)
	assert.NotNil(t, got.ScoreUpdatedAt)
}

func TestScoringRules_ActiveFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateScoringRule(ctx, "company-a", &domain.ScoringRuleInput{
		Field: domain.FieldValue, Operator: domain.OpGte, Value: "1000", Points: 10,
	})
	require.NoError(t, err)
	inactive, err := s.CreateScoringRule(ctx, "company-a", &domain.ScoringRuleInput{
		Field: domain.FieldSource, Operator: domain.OpEq, Value: "site", Points: 5, Active: ptr(false),
	})
	require.NoError(t, err)
	assert.False(t, inactive.Active)

	active, err := s.ListScoringRules(ctx, "company-a", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.FieldValue, active[0].Field)

	all, err := s.ListScoringRules(ctx, "company-a", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	updated, err := s.UpdateScoringRule(ctx, "company-a", inactive.ID, &domain.ScoringRuleInput{
		Field: domain.FieldSource, Operator: domain.OpEq, Value: "indicacao", Points: 8,
	})
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Equal(t, 8, updated.Points)

	require.NoError(t, s.DeleteScoringRule(ctx, "company-a", inactive.ID))
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, s.DeleteScoringRule(ctx, "company-a", inactive.ID), &nf)
}

func TestStageRules_UpsertKeepsOneRowPerKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.UpsertStageRule(ctx, "company-a", &domain.StageRuleInput{
		PipelineID: "pipe-1", Stage: "proposal", SLADays: ptr(5),
	})
	require.NoError(t, err)

	second, err := s.UpsertStageRule(ctx, "company-a", &domain.StageRuleInput{
		PipelineID: "pipe-1", Stage: "proposal", ReminderDaysBefore: ptr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, second.SLADays)
	assert.Equal(t, 2, *second.ReminderDaysBefore)

	rules, err := s.ListStageRules(ctx, "company-a", "pipe-1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	missing, err := s.FindStageRule(ctx, "company-a", "pipe-1", "won")
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := s.DeleteStageRule(ctx, "company-a", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "proposal", deleted.Stage)
}

func TestNotificationTargets_JoinPreferences(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMember(ctx, domain.CompanyMember{CompanyID: "company-a", UserID: "u1", Email: "ana@loja.com", FullName: "Ana"}))
	require.NoError(t, s.AddMember(ctx, domain.CompanyMember{CompanyID: "company-a", UserID: "u2", Email: "bia@loja.com"}))
	require.NoError(t, s.AddMember(ctx, domain.CompanyMember{CompanyID: "company-a", UserID: "u3"}))
	require.NoError(t, s.AddMember(ctx, domain.CompanyMember{CompanyID: "company-b", UserID: "u4"}))

	require.NoError(t, s.SetPreference(ctx, domain.NotificationPreference{
		CompanyID: "company-a", UserID: "u1", Type: domain.NotifyStageChanged, InAppEnabled: true, EmailEnabled: true,
	}))
	require.NoError(t, s.SetPreference(ctx, domain.NotificationPreference{
		CompanyID: "company-a", UserID: "u3", Type: domain.NotifyStageChanged, InAppEnabled: false,
	}))

	targets, err := s.GetUsersToNotify(ctx, "company-a", domain.NotifyStageChanged)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "u1", targets[0].UserID)
	assert.True(t, targets[0].WantsEmail())
	assert.Equal(t, "u2", targets[1].UserID)
	assert.False(t, targets[1].WantsEmail())

	optedOut, err := s.GetUserNotificationTarget(ctx, "company-a", "u3", domain.NotifyStageChanged)
	require.NoError(t, err)
	assert.Nil(t, optedOut)

	stranger, err := s.GetUserNotificationTarget(ctx, "company-a", "u4", domain.NotifyStageChanged)
	require.NoError(t, err)
	assert.Nil(t, stranger)
}

func TestNotifications_ListAndMarkRead(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	n, err := s.CreateNotification(ctx, &domain.Notification{
		UserID:    "u1",
		CompanyID: "company-a",
		Type:      domain.NotifyAutoAssign,
		Title:     "Opportunity assigned",
		Message:   "hello",
		Data:      map[string]any{"opportunity_id": "opp-1"},
	})
	require.NoError(t, err)

	unread, err := s.ListNotifications(ctx, "company-a", "u1", true, 1, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "opp-1", unread[0].Data["opportunity_id"])

	require.NoError(t, s.MarkNotificationRead(ctx, "company-a", "u1", n.ID))
	require.NoError(t, s.MarkNotificationRead(ctx, "company-a", "u1", n.ID))

	unread, err = s.ListNotifications(ctx, "company-a", "u1", true, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, s.MarkNotificationRead(ctx, "company-a", "u2", n.ID), &nf)
}

func TestActivities_DeletedWithOpportunity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opp, err := s.CreateOpportunity(ctx, "company-a", &domain.OpportunityInput{Name: "A"})
	require.NoError(t, err)
	due := time.Now().Add(48 * time.Hour)
	_, err = s.CreateActivity(ctx, &domain.Activity{
		CompanyID:     "company-a",
		OpportunityID: opp.ID,
		Type:          domain.ActivityTask,
		Subject:       "Follow up: A",
		DueAt:         &due,
	})
	require.NoError(t, err)

	acts, err := s.ListActivities(ctx, "company-a", opp.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, domain.ActivityTask, acts[0].Type)

	require.NoError(t, s.DeleteOpportunity(ctx, "company-a", opp.ID))
	acts, err = s.ListActivities(ctx, "company-a", opp.ID)
	require.NoError(t, err)
	assert.Empty(t, acts)
}
