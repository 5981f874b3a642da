// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (Supabase, Postgres, in-memory).
//
// Every store method takes the tenant (companyID) explicitly; stores never
// infer it.
package port

import (
	"context"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
)

// OpportunityStore persists opportunities.
type OpportunityStore interface {
	CreateOpportunity(ctx context.Context, companyID string, in *domain.OpportunityInput) (*domain.Opportunity, error)
	GetOpportunity(ctx context.Context, companyID, id string) (*domain.Opportunity, error)
	ListOpportunities(ctx context.Context, companyID string, filter domain.OpportunityFilter) ([]domain.Opportunity, error)
	// ListAllOpportunities returns every opportunity of the tenant (no paging).
	ListAllOpportunities(ctx context.Context, companyID string) ([]domain.Opportunity, error)
	// UpdateOpportunity applies the given columns and returns the updated row.
	UpdateOpportunity(ctx context.Context, companyID, id string, cols map[string]any) (*domain.Opportunity, error)
	UpdateOpportunityScore(ctx context.Context, companyID, id string, score int, at time.Time) error
	DeleteOpportunity(ctx context.Context, companyID, id string) error
}

// ScoringRuleStore persists scoring rules.
type ScoringRuleStore interface {
	ListScoringRules(ctx context.Context, companyID string, activeOnly bool) ([]domain.ScoringRule, error)
	CreateScoringRule(ctx context.Context, companyID string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error)
	UpdateScoringRule(ctx context.Context, companyID, id string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error)
	DeleteScoringRule(ctx context.Context, companyID, id string) error
}

// StageRuleStore persists stage rules, unique per (company, pipeline, stage).
type StageRuleStore interface {
	// FindStageRule returns nil, nil when no rule exists for the key.
	FindStageRule(ctx context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error)
	ListStageRules(ctx context.Context, companyID, pipelineID string) ([]domain.StageRule, error)
	UpsertStageRule(ctx context.Context, companyID string, in *domain.StageRuleInput) (*domain.StageRule, error)
	DeleteStageRule(ctx context.Context, companyID, id string) (*domain.StageRule, error)
}

// PipelineStore persists pipelines.
type PipelineStore interface {
	ListPipelines(ctx context.Context, companyID string) ([]domain.Pipeline, error)
	GetPipeline(ctx context.Context, companyID, id string) (*domain.Pipeline, error)
	CreatePipeline(ctx context.Context, companyID string, in *domain.PipelineInput) (*domain.Pipeline, error)
}

// ActivityStore persists activities; id and timestamps are filled by the store.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error)
	ListActivities(ctx context.Context, companyID, opportunityID string) ([]domain.Activity, error)
}

// NotificationStore persists in-app notifications and resolves recipients.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	// GetUsersToNotify resolves every subscriber of the type for the company.
	GetUsersToNotify(ctx context.Context, companyID string, nt domain.NotificationType) ([]domain.NotificationTarget, error)
	// GetUserNotificationTarget returns nil, nil when the user is not a subscriber.
	GetUserNotificationTarget(ctx context.Context, companyID, userID string, nt domain.NotificationType) (*domain.NotificationTarget, error)
	ListNotifications(ctx context.Context, companyID, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, companyID, userID, id string) error
}

// Store is the full data store collaborator.
type Store interface {
	OpportunityStore
	ScoringRuleStore
	StageRuleStore
	PipelineStore
	ActivityStore
	NotificationStore
}

// EmailSender dispatches one email to a batch of recipients.
type EmailSender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
}

// Notifier fans a CRM event out to users.
type Notifier interface {
	Notify(ctx context.Context, in domain.NotifyInput) (*domain.NotifyReport, error)
}

// StageRuleApplier runs stage automation for an opportunity.
type StageRuleApplier interface {
	ApplyForOpportunity(ctx context.Context, trigger domain.StageRuleTrigger) (*domain.StageRuleOutcome, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// MemberDirectory seeds company members and their notification preferences.
// Implemented by the stores that own those tables.
type MemberDirectory interface {
	AddMember(ctx context.Context, m domain.CompanyMember) error
	SetPreference(ctx context.Context, p domain.NotificationPreference) error
}
