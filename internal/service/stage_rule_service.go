package service

import (
	"context"
	"fmt"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var stageTracer = otel.Tracer("service/stage_rules")

const day = 24 * time.Hour

// StageRuleService applies per-(pipeline, stage) automation when an opportunity enters a stage.
type StageRuleService struct {
	rules         port.StageRuleStore
	opportunities port.OpportunityStore
	activities    port.ActivityStore
	notifier      port.Notifier
	cache         port.Cache[*domain.StageRule]
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewStageRuleService creates the stage rule engine. cache may be nil.
func NewStageRuleService(
	rules port.StageRuleStore,
	opportunities port.OpportunityStore,
	activities port.ActivityStore,
	notifier port.Notifier,
	cache port.Cache[*domain.StageRule],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *StageRuleService {
	return &StageRuleService{
		rules:         rules,
		opportunities: opportunities,
		activities:    activities,
		notifier:      notifier,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// ApplyForOpportunity runs the stage rule for the trigger's (pipeline, stage), if any.
//
// Steps run sequentially and the first failure aborts the rest. Field updates already
// written are not rolled back.
func (s *StageRuleService) ApplyForOpportunity(ctx context.Context, t domain.StageRuleTrigger) (*domain.StageRuleOutcome, error) {
	ctx, span := stageTracer.Start(ctx, "StageRuleService.ApplyForOpportunity")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", t.CompanyID),
		attribute.String("opportunity.id", t.OpportunityID),
		attribute.String("pipeline.id", t.PipelineID),
		attribute.String("stage", t.Stage),
	)

	outcome := &domain.StageRuleOutcome{}
	if t.PipelineID == "" || t.Stage == "" {
		s.metrics.IncrStageRule("skipped")
		return outcome, nil
	}

	rule, err := s.findRule(ctx, t.CompanyID, t.PipelineID, t.Stage)
	if err != nil {
		return outcome, fmt.Errorf("find stage rule: %w", err)
	}
	if rule == nil {
		s.metrics.IncrStageRule("skipped")
		return outcome, nil
	}
	s.metrics.IncrStageRule("matched")
	outcome.Matched = true
	outcome.RuleID = rule.ID

	now := s.now()

	// --- Step 1: field updates ---
	cols := map[string]any{}
	if rule.HasAutoAssign() {
		cols["owner_id"] = *rule.AutoAssignOwnerID
	}
	var slaDue *time.Time
	if rule.HasSLA() {
		due := now.Add(time.Duration(*rule.SLADays) * day)
		slaDue = &due
		cols["sla_due_at"] = due
	}
	if len(cols) > 0 {
		cols["updated_at"] = now
		if _, err := s.opportunities.UpdateOpportunity(ctx, t.CompanyID, t.OpportunityID, cols); err != nil {
			return outcome, fmt.Errorf("apply stage rule fields: %w", err)
		}
		outcome.Updated = true
		outcome.SLADueAt = slaDue
	}

	// --- Step 2: reload for message context ---
	opp, err := s.opportunities.GetOpportunity(ctx, t.CompanyID, t.OpportunityID)
	if err != nil {
		return outcome, fmt.Errorf("reload opportunity: %w", err)
	}
	name := opp.Name
	stage := deref(opp.Stage)
	if stage == "" {
		stage = t.Stage
	}
	owner := deref(opp.OwnerID)

	// --- Step 3: notifications ---
	if rule.HasAutoAssign() {
		outcome.AssignedOwnerID = *rule.AutoAssignOwnerID
		msg := autoAssignMessage(name, stage)
		if err := s.notify(ctx, t.CompanyID, domain.NotifyAutoAssign, msg, opp, *rule.AutoAssignOwnerID); err != nil {
			return outcome, err
		}
		outcome.Notifications = append(outcome.Notifications, domain.NotifyAutoAssign)
	}

	if slaDue != nil && owner != "" {
		msg := slaAssignedMessage(name, stage, *slaDue)
		if err := s.notify(ctx, t.CompanyID, domain.NotifySLAAssigned, msg, opp, owner); err != nil {
			return outcome, err
		}
		outcome.Notifications = append(outcome.Notifications, domain.NotifySLAAssigned)
	}

	// --- Step 4: reminder task ---
	if rule.HasReminder() {
		due := reminderDueAt(now, rule)
		subject, notes := reminderActivity(name, stage, due, slaDue)

		activity := &domain.Activity{
			CompanyID:     t.CompanyID,
			OpportunityID: t.OpportunityID,
			Type:          domain.ActivityTask,
			Subject:       subject,
			Notes:         notes,
			DueAt:         &due,
		}
		if owner != "" {
			activity.OwnerID = &owner
		}
		created, err := s.activities.CreateActivity(ctx, activity)
		if err != nil {
			return outcome, fmt.Errorf("create reminder activity: %w", err)
		}
		outcome.ReminderActivityID = created.ID
		outcome.ReminderDueAt = &due

		if owner != "" {
			msg := reminderCreatedMessage(name, due)
			if err := s.notify(ctx, t.CompanyID, domain.NotifyReminderCreated, msg, opp, owner); err != nil {
				return outcome, err
			}
			outcome.Notifications = append(outcome.Notifications, domain.NotifyReminderCreated)
		}
	}

	s.logger.Info("stage rule applied",
		zap.String("company_id", t.CompanyID),
		zap.String("opportunity_id", t.OpportunityID),
		zap.String("rule_id", rule.ID),
		zap.Bool("updated", outcome.Updated),
		zap.String("assigned_owner_id", outcome.AssignedOwnerID),
		zap.String("reminder_activity_id", outcome.ReminderActivityID),
	)

	return outcome, nil
}

// reminderDueAt is now + max(slaDays - reminderDaysBefore, 0) with an SLA,
// otherwise now + reminderDaysBefore.
func reminderDueAt(now time.Time, rule *domain.StageRule) time.Time {
	days := *rule.ReminderDaysBefore
	if rule.HasSLA() {
		days = max(*rule.SLADays-*rule.ReminderDaysBefore, 0)
	}
	return now.Add(time.Duration(days) * day)
}

func (s *StageRuleService) notify(ctx context.Context, companyID string, nt domain.NotificationType, msg message, opp *domain.Opportunity, userID string) error {
	_, err := s.notifier.Notify(ctx, domain.NotifyInput{
		CompanyID: companyID,
		Type:      nt,
		Title:     msg.title,
		Message:   msg.body,
		Data:      opportunityData(opp),
		UserIDs:   []string{userID},
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", nt, err)
	}
	return nil
}

func stageRuleCacheKey(companyID, pipelineID, stage string) string {
	return fmt.Sprintf("stage_rule:%s:%s:%s", companyID, pipelineID, stage)
}

// findRule caches misses too (a nil rule) so stages without automation stay cheap.
func (s *StageRuleService) findRule(ctx context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error) {
	key := stageRuleCacheKey(companyID, pipelineID, stage)
	if s.cache != nil {
		if rule, ok := s.cache.Get(key); ok {
			s.metrics.IncrCacheHit("stage_rule")
			return rule, nil
		}
		s.metrics.IncrCacheMiss("stage_rule")
	}

	rule, err := s.rules.FindStageRule(ctx, companyID, pipelineID, stage)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, rule)
	}
	return rule, nil
}

// ============================================================
// Rule catalog
// ============================================================

func (s *StageRuleService) ListRules(ctx context.Context, companyID, pipelineID string) ([]domain.StageRule, error) {
	ctx, span := stageTracer.Start(ctx, "StageRuleService.ListRules")
	defer span.End()

	return s.rules.ListStageRules(ctx, companyID, pipelineID)
}

// UpsertRule creates or replaces the rule for (pipeline, stage).
func (s *StageRuleService) UpsertRule(ctx context.Context, companyID string, in *domain.StageRuleInput) (*domain.StageRule, error) {
	ctx, span := stageTracer.Start(ctx, "StageRuleService.UpsertRule")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	rule, err := s.rules.UpsertStageRule(ctx, companyID, in)
	if err != nil {
		s.logger.Error("failed to upsert stage rule",
			zap.String("company_id", companyID),
			zap.String("pipeline_id", in.PipelineID),
			zap.String("stage", in.Stage),
			zap.Error(err),
		)
		return nil, err
	}
	if s.cache != nil {
		s.cache.Delete(stageRuleCacheKey(companyID, in.PipelineID, in.Stage))
	}
	return rule, nil
}

func (s *StageRuleService) DeleteRule(ctx context.Context, companyID, id string) error {
	ctx, span := stageTracer.Start(ctx, "StageRuleService.DeleteRule")
	defer span.End()

	rule, err := s.rules.DeleteStageRule(ctx, companyID, id)
	if err != nil {
		return err
	}
	if s.cache != nil && rule != nil {
		s.cache.Delete(stageRuleCacheKey(companyID, rule.PipelineID, rule.Stage))
	}
	return nil
}
