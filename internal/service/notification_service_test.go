package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifyFixture struct {
	store   *flakyStore
	email   *mockEmailSender
	metrics *observability.Metrics
	svc     *service.NotificationService
}

// newNotifyFixture seeds three members of company-a:
//   - gerente: in-app and email for auto-assign
//   - vendedor: no preference row (in-app only)
//   - estagiario: opted out of auto-assign in-app
func newNotifyFixture(t *testing.T) *notifyFixture {
	t.Helper()
	ctx := context.Background()
	store := newFlakyStore()

	for _, m := range []domain.CompanyMember{
		{CompanyID: companyA, UserID: "gerente", Email: "gerente@varejo.com.br", FullName: "Ana Gerente", Role: "manager"},
		{CompanyID: companyA, UserID: "vendedor", Email: "vendedor@varejo.com.br", FullName: "Beto Vendedor"},
		{CompanyID: companyA, UserID: "estagiario", Email: "estagio@varejo.com.br"},
		{CompanyID: "company-b", UserID: "outsider", Email: "outsider@b.com"},
	} {
		require.NoError(t, store.AddMember(ctx, m))
	}
	require.NoError(t, store.SetPreference(ctx, domain.NotificationPreference{
		CompanyID: companyA, UserID: "gerente", Type: domain.NotifyAutoAssign, InAppEnabled: true, EmailEnabled: true,
	}))
	require.NoError(t, store.SetPreference(ctx, domain.NotificationPreference{
		CompanyID: companyA, UserID: "estagiario", Type: domain.NotifyAutoAssign, InAppEnabled: false, EmailEnabled: true,
	}))

	f := &notifyFixture{store: store, email: &mockEmailSender{}, metrics: observability.NewMetrics()}
	f.svc = service.NewNotificationService(store, f.email, 4, f.metrics, zap.NewNop())
	return f
}

func autoAssign(userIDs []string) domain.NotifyInput {
	return domain.NotifyInput{
		CompanyID: companyA,
		Type:      domain.NotifyAutoAssign,
		Title:     "Opportunity assigned",
		Message:   "You were assigned.",
		Data:      map[string]any{"opportunity_id": "opp-1"},
		UserIDs:   userIDs,
	}
}

func userIDs(targets []domain.NotificationTarget) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.UserID)
	}
	return out
}

func inbox(t *testing.T, store *flakyStore, userID string) []domain.Notification {
	t.Helper()
	list, err := store.ListNotifications(context.Background(), companyA, userID, false, 1, 50)
	require.NoError(t, err)
	return list
}

func TestNotify_BroadcastHonoursPreferences(t *testing.T) {
	f := newNotifyFixture(t)

	report, err := f.svc.Notify(context.Background(), autoAssign(nil))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"gerente", "vendedor"}, userIDs(report.Targets))
	require.Len(t, report.Deliveries, 2)
	for _, d := range report.Deliveries {
		assert.NoError(t, d.Err)
		assert.NotEmpty(t, d.NotificationID)
	}

	assert.Len(t, inbox(t, f.store, "gerente"), 1)
	assert.Len(t, inbox(t, f.store, "vendedor"), 1)
	assert.Empty(t, inbox(t, f.store, "estagiario"))

	n := inbox(t, f.store, "gerente")[0]
	assert.Equal(t, domain.NotifyAutoAssign, n.Type)
	assert.Equal(t, "Opportunity assigned", n.Title)
	assert.Equal(t, "opp-1", n.Data["opportunity_id"])

	sent := f.email.calls()
	require.Len(t, sent, 1, "one batch per event")
	assert.Equal(t, []domain.EmailRecipient{{Email: "gerente@varejo.com.br", Name: "Ana Gerente"}}, sent[0].Recipients)
	assert.Equal(t, "Opportunity assigned", sent[0].Subject)
	assert.True(t, report.EmailAttempted)
	assert.Equal(t, 1, report.EmailRecipients)

	snap := f.metrics.Snapshot()
	assert.Equal(t, float64(2), snap.NotificationsSent)
	assert.Equal(t, float64(1), snap.EmailsSent)
}

func TestNotify_ExplicitUsers(t *testing.T) {
	f := newNotifyFixture(t)

	report, err := f.svc.Notify(context.Background(), autoAssign([]string{"vendedor", "", "vendedor", "outsider", "estagiario", "ghost"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"vendedor"}, userIDs(report.Targets))
	assert.Len(t, inbox(t, f.store, "vendedor"), 1)
	assert.False(t, report.EmailAttempted, "vendedor has no email preference")
	assert.Empty(t, f.email.calls())
}

func TestNotify_ZeroTargets(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{"empty list", []string{}},
		{"only non-members", []string{"outsider", "ghost"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newNotifyFixture(t)

			report, err := f.svc.Notify(context.Background(), autoAssign(tc.ids))
			require.NoError(t, err)
			assert.Empty(t, report.Targets)
			assert.Empty(t, report.Deliveries)
			assert.Empty(t, f.email.calls())
		})
	}
}

func TestNotify_EmailFailureIsOnlyLogged(t *testing.T) {
	f := newNotifyFixture(t)
	f.email.err = errors.New("smtp relay down")

	report, err := f.svc.Notify(context.Background(), autoAssign([]string{"gerente"}))
	require.NoError(t, err)
	assert.True(t, report.EmailAttempted)
	assert.EqualError(t, report.EmailErr, "smtp relay down")
	assert.Len(t, inbox(t, f.store, "gerente"), 1)
	assert.Equal(t, float64(1), f.metrics.Snapshot().EmailsFailed)
}

func TestNotify_InAppFailureReportsFirstInOrder(t *testing.T) {
	f := newNotifyFixture(t)
	f.store.failNotificationFor = map[string]bool{"gerente": true}

	report, err := f.svc.Notify(context.Background(), autoAssign([]string{"vendedor", "gerente"}))
	require.Error(t, err)
	require.ErrorIs(t, err, errWriteFailed)
	assert.Contains(t, err.Error(), "to user gerente")

	require.NotNil(t, report)
	require.Len(t, report.Deliveries, 2)
	assert.Equal(t, "vendedor", report.Deliveries[0].UserID)
	assert.NoError(t, report.Deliveries[0].Err)
	assert.Equal(t, "gerente", report.Deliveries[1].UserID)
	assert.Len(t, report.Failed(), 1)

	// The other delivery still went through and email was still attempted.
	assert.Len(t, inbox(t, f.store, "vendedor"), 1)
	assert.Len(t, f.email.calls(), 1)
	assert.Equal(t, float64(1), f.metrics.Snapshot().NotificationsFailed)
}

func TestNotify_WithoutEmailSender(t *testing.T) {
	f := newNotifyFixture(t)
	svc := service.NewNotificationService(f.store, nil, 0, f.metrics, zap.NewNop())

	report, err := svc.Notify(context.Background(), autoAssign([]string{"gerente"}))
	require.NoError(t, err)
	assert.False(t, report.EmailAttempted)
	assert.Len(t, inbox(t, f.store, "gerente"), 1)
}

func TestNotify_Validation(t *testing.T) {
	f := newNotifyFixture(t)

	tests := []struct {
		name  string
		in    domain.NotifyInput
		field string
	}{
		{"missing company", domain.NotifyInput{Type: domain.NotifyAutoAssign}, "company_id"},
		{"missing type", domain.NotifyInput{CompanyID: companyA}, "type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Notify(context.Background(), tc.in)
			var verr *domain.ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestInbox_MarkRead(t *testing.T) {
	ctx := context.Background()
	f := newNotifyFixture(t)

	_, err := f.svc.Notify(ctx, autoAssign([]string{"vendedor"}))
	require.NoError(t, err)

	unread, err := f.svc.ListForUser(ctx, companyA, "vendedor", true, 1, 20)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	var nf *domain.ErrNotFound
	require.ErrorAs(t, f.svc.MarkRead(ctx, companyA, "gerente", unread[0].ID), &nf)

	require.NoError(t, f.svc.MarkRead(ctx, companyA, "vendedor", unread[0].ID))
	unread, err = f.svc.ListForUser(ctx, companyA, "vendedor", true, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
