package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/memstore"
)

// --- Mocks ---

var errWriteFailed = errors.New("write failed")

// flakyStore is a memstore that fails selected calls.
type flakyStore struct {
	*memstore.Store

	failScoreFor        map[string]bool
	failNotificationFor map[string]bool
	failUpdate          error
	failActivity        error
	failFind            error

	findCalls atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memstore.New()}
}

func (f *flakyStore) UpdateOpportunityScore(ctx context.Context, companyID, id string, score int, at time.Time) error {
	if f.failScoreFor[id] {
		return errWriteFailed
	}
	return f.Store.UpdateOpportunityScore(ctx, companyID, id, score, at)
}

func (f *flakyStore) UpdateOpportunity(ctx context.Context, companyID, id string, cols map[string]any) (*domain.Opportunity, error) {
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	return f.Store.UpdateOpportunity(ctx, companyID, id, cols)
}

func (f *flakyStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if f.failNotificationFor[n.UserID] {
		return nil, errWriteFailed
	}
	return f.Store.CreateNotification(ctx, n)
}

func (f *flakyStore) CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	if f.failActivity != nil {
		return nil, f.failActivity
	}
	return f.Store.CreateActivity(ctx, a)
}

func (f *flakyStore) FindStageRule(ctx context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error) {
	f.findCalls.Add(1)
	if f.failFind != nil {
		return nil, f.failFind
	}
	return f.Store.FindStageRule(ctx, companyID, pipelineID, stage)
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []*domain.EmailMessage
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, msg *domain.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mockEmailSender) calls() []*domain.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.EmailMessage(nil), m.sent...)
}

// eventLog records the order in which collaborators were called.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type mockNotifier struct {
	log   *eventLog
	mu    sync.Mutex
	calls []domain.NotifyInput
	err   error
}

func (m *mockNotifier) Notify(_ context.Context, in domain.NotifyInput) (*domain.NotifyReport, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()
	if m.log != nil {
		m.log.add("notify:" + string(in.Type))
	}
	return &domain.NotifyReport{}, m.err
}

type mockStageRuleApplier struct {
	log      *eventLog
	triggers []domain.StageRuleTrigger
	apply    func(domain.StageRuleTrigger) (*domain.StageRuleOutcome, error)
}

func (m *mockStageRuleApplier) ApplyForOpportunity(_ context.Context, t domain.StageRuleTrigger) (*domain.StageRuleOutcome, error) {
	m.triggers = append(m.triggers, t)
	if m.log != nil {
		m.log.add("apply:" + t.Stage)
	}
	if m.apply != nil {
		return m.apply(t)
	}
	return &domain.StageRuleOutcome{}, nil
}

func ptr[T any](v T) *T { return &v }
