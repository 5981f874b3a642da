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

var oppTracer = otel.Tracer("service/opportunity")

// OpportunityService orchestrates opportunity writes and their automation side effects.
type OpportunityService struct {
	store      port.OpportunityStore
	activities port.ActivityStore
	stageRules port.StageRuleApplier
	notifier   port.Notifier
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewOpportunityService creates the opportunity orchestrator.
func NewOpportunityService(
	store port.OpportunityStore,
	activities port.ActivityStore,
	stageRules port.StageRuleApplier,
	notifier port.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *OpportunityService {
	return &OpportunityService{
		store:      store,
		activities: activities,
		stageRules: stageRules,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Create validates and inserts the opportunity, then runs the stage rule of its initial stage.
// When automation fails the inserted row is returned together with the error.
func (s *OpportunityService) Create(ctx context.Context, companyID string, in *domain.OpportunityInput) (*domain.Opportunity, error) {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("opportunity_create", time.Since(start)) }()

	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "required"}
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	opp, err := s.store.CreateOpportunity(ctx, companyID, in)
	if err != nil {
		s.logger.Error("failed to create opportunity", zap.String("company_id", companyID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("opportunity created",
		zap.String("company_id", companyID),
		zap.String("opportunity_id", opp.ID),
		zap.String("stage", deref(opp.Stage)),
	)

	return s.runStageRule(ctx, opp)
}

// Update applies the patch, then notifies the owner of a stage change and finally runs
// the stage rule when stage or pipeline were part of the patch. The field update is never
// rolled back; on a later failure the updated row is returned with the error.
func (s *OpportunityService) Update(ctx context.Context, companyID, id string, patch *domain.OpportunityPatch) (*domain.Opportunity, error) {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID),
		attribute.String("opportunity.id", id),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("opportunity_update", time.Since(start)) }()

	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "required"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	cols := patch.Columns()
	cols["updated_at"] = s.now()

	opp, err := s.store.UpdateOpportunity(ctx, companyID, id, cols)
	if err != nil {
		s.logger.Error("failed to update opportunity",
			zap.String("company_id", companyID),
			zap.String("opportunity_id", id),
			zap.Error(err),
		)
		return nil, err
	}

	if patch.Stage != nil && opp.OwnerID != nil && *opp.OwnerID != "" {
		msg := stageChangedMessage(opp.Name, *patch.Stage)
		_, err := s.notifier.Notify(ctx, domain.NotifyInput{
			CompanyID: companyID,
			Type:      domain.NotifyStageChanged,
			Title:     msg.title,
			Message:   msg.body,
			Data:      opportunityData(opp),
			UserIDs:   []string{*opp.OwnerID},
		})
		if err != nil {
			return opp, fmt.Errorf("notify stage change: %w", err)
		}
	}

	if !patch.TouchesStage() {
		return opp, nil
	}
	return s.runStageRule(ctx, opp)
}

// runStageRule applies automation for opp's current stage and reloads it when fields changed.
func (s *OpportunityService) runStageRule(ctx context.Context, opp *domain.Opportunity) (*domain.Opportunity, error) {
	pipelineID, stage := deref(opp.PipelineID), deref(opp.Stage)
	if pipelineID == "" || stage == "" {
		return opp, nil
	}

	outcome, err := s.stageRules.ApplyForOpportunity(ctx, domain.StageRuleTrigger{
		CompanyID:     opp.CompanyID,
		PipelineID:    pipelineID,
		Stage:         stage,
		OpportunityID: opp.ID,
	})
	if err != nil {
		s.logger.Error("stage rule automation failed",
			zap.String("company_id", opp.CompanyID),
			zap.String("opportunity_id", opp.ID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return opp, err
	}
	if !outcome.Updated {
		return opp, nil
	}

	fresh, err := s.store.GetOpportunity(ctx, opp.CompanyID, opp.ID)
	if err != nil {
		return opp, err
	}
	return fresh, nil
}

func (s *OpportunityService) Get(ctx context.Context, companyID, id string) (*domain.Opportunity, error) {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.Get")
	defer span.End()

	return s.store.GetOpportunity(ctx, companyID, id)
}

func (s *OpportunityService) List(ctx context.Context, companyID string, filter domain.OpportunityFilter) ([]domain.Opportunity, error) {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.List")
	defer span.End()

	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	return s.store.ListOpportunities(ctx, companyID, filter)
}

func (s *OpportunityService) Delete(ctx context.Context, companyID, id string) error {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.Delete")
	defer span.End()

	if err := s.store.DeleteOpportunity(ctx, companyID, id); err != nil {
		return err
	}
	s.logger.Info("opportunity deleted", zap.String("company_id", companyID), zap.String("opportunity_id", id))
	return nil
}

// ListActivities returns the activities of an existing opportunity.
func (s *OpportunityService) ListActivities(ctx context.Context, companyID, id string) ([]domain.Activity, error) {
	ctx, span := oppTracer.Start(ctx, "OpportunityService.ListActivities")
	defer span.End()

	if _, err := s.store.GetOpportunity(ctx, companyID, id); err != nil {
		return nil, err
	}
	return s.activities.ListActivities(ctx, companyID, id)
}
