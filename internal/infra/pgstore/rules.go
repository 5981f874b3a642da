package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================================
// Scoring rules
// ============================================================

func (s *Store) ListScoringRules(ctx context.Context, companyID string, activeOnly bool) ([]domain.ScoringRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListScoringRules")
	defer span.End()

	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []scoringRuleModel
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, s.wrap("crm_scoring_rules", "", err)
	}
	out := make([]domain.ScoringRule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) CreateScoringRule(ctx context.Context, companyID string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateScoringRule")
	defer span.End()

	m := scoringRuleModel{
		CompanyID: companyID,
		Field:     string(in.Field),
		Operator:  string(in.Operator),
		Value:     in.Value,
		Points:    in.Points,
		Active:    in.IsActive(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, s.wrap("crm_scoring_rules", "", err)
	}
	r := m.toDomain()
	return &r, nil
}

func (s *Store) UpdateScoringRule(ctx context.Context, companyID, id string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateScoringRule")
	defer span.End()

	res := s.db.WithContext(ctx).
		Model(&scoringRuleModel{}).
		Where("id = ? AND company_id = ?", id, companyID).
		Updates(map[string]any{
			"field":      string(in.Field),
			"operator":   string(in.Operator),
			"value":      in.Value,
			"points":     in.Points,
			"active":     in.IsActive(),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, s.wrap("crm_scoring_rules", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &domain.ErrNotFound{Resource: "scoring_rule", ID: id}
	}

	var m scoringRuleModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, s.wrap("scoring_rule", id, err)
	}
	r := m.toDomain()
	return &r, nil
}

func (s *Store) DeleteScoringRule(ctx context.Context, companyID, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteScoringRule")
	defer span.End()

	res := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, companyID).Delete(&scoringRuleModel{})
	if res.Error != nil {
		return s.wrap("crm_scoring_rules", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "scoring_rule", ID: id}
	}
	return nil
}

// ============================================================
// Stage rules
// ============================================================

func (s *Store) FindStageRule(ctx context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindStageRule")
	defer span.End()

	var m stageRuleModel
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND pipeline_id = ? AND stage = ?", companyID, pipelineID, stage).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("crm_stage_rules", "", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListStageRules(ctx context.Context, companyID, pipelineID string) ([]domain.StageRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListStageRules")
	defer span.End()

	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if pipelineID != "" {
		q = q.Where("pipeline_id = ?", pipelineID)
	}
	var rows []stageRuleModel
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, s.wrap("crm_stage_rules", "", err)
	}
	out := make([]domain.StageRule, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

// UpsertStageRule inserts or replaces the rule keyed by (company_id, pipeline_id, stage).
func (s *Store) UpsertStageRule(ctx context.Context, companyID string, in *domain.StageRuleInput) (*domain.StageRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertStageRule")
	defer span.End()

	m := stageRuleModel{
		CompanyID:          companyID,
		PipelineID:         in.PipelineID,
		Stage:              in.Stage,
		SLADays:            in.SLADays,
		AutoAssignOwnerID:  in.AutoAssignOwnerID,
		ReminderDaysBefore: in.ReminderDaysBefore,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "pipeline_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"sla_days", "auto_assign_owner_id", "reminder_days_before", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return nil, s.wrap("crm_stage_rules", "", err)
	}

	// On conflict the generated id was discarded; reload by key.
	rule, err := s.FindStageRule(ctx, companyID, in.PipelineID, in.Stage)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, &domain.ErrNotFound{Resource: "stage_rule", ID: in.PipelineID + "/" + in.Stage}
	}
	return rule, nil
}

func (s *Store) DeleteStageRule(ctx context.Context, companyID, id string) (*domain.StageRule, error) {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteStageRule")
	defer span.End()

	var m stageRuleModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND company_id = ?", id, companyID).First(&m).Error; err != nil {
			return err
		}
		return tx.Delete(&m).Error
	})
	if err != nil {
		return nil, s.wrap("stage_rule", id, err)
	}
	return m.toDomain(), nil
}

// ============================================================
// Pipelines
// ============================================================

func (s *Store) ListPipelines(ctx context.Context, companyID string) ([]domain.Pipeline, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPipelines")
	defer span.End()

	var rows []pipelineModel
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, s.wrap("pipelines", "", err)
	}
	out := make([]domain.Pipeline, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) GetPipeline(ctx context.Context, companyID, id string) (*domain.Pipeline, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetPipeline")
	defer span.End()

	var m pipelineModel
	if err := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, companyID).First(&m).Error; err != nil {
		return nil, s.wrap("pipeline", id, err)
	}
	return m.toDomain(), nil
}

func (s *Store) CreatePipeline(ctx context.Context, companyID string, in *domain.PipelineInput) (*domain.Pipeline, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreatePipeline")
	defer span.End()

	m := pipelineModel{
		CompanyID: companyID,
		Name:      in.Name,
		Stages:    StringList(in.Stages),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, s.wrap("pipelines", "", err)
	}
	return m.toDomain(), nil
}
