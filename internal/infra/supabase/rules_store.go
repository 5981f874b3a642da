package supabase

import (
	"context"
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
)

const (
	tableScoringRules = "crm_scoring_rules"
	tableStageRules   = "crm_stage_rules"
	tablePipelines    = "pipelines"
)

// ============================================================
// Scoring rules
// ============================================================

func (c *Client) ListScoringRules(ctx context.Context, companyID string, activeOnly bool) ([]domain.ScoringRule, error) {
	q := from(tableScoringRules).eq("company_id", companyID).order("created_at", true)
	if activeOnly {
		q.eq("active", "true")
	}
	rows := []domain.ScoringRule{}
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) CreateScoringRule(ctx context.Context, companyID string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	row := scoringRuleRow(in)
	row["company_id"] = companyID

	var rows []domain.ScoringRule
	if err := c.write(ctx, http.MethodPost, from(tableScoringRules), row, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "scoring_rule", "new")
}

func (c *Client) UpdateScoringRule(ctx context.Context, companyID, id string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	row := scoringRuleRow(in)
	row["updated_at"] = c.now()

	var rows []domain.ScoringRule
	q := from(tableScoringRules).eq("id", id).eq("company_id", companyID)
	if err := c.write(ctx, http.MethodPatch, q, row, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "scoring_rule", id)
}

func (c *Client) DeleteScoringRule(ctx context.Context, companyID, id string) error {
	var rows []domain.ScoringRule
	q := from(tableScoringRules).eq("id", id).eq("company_id", companyID)
	if err := c.write(ctx, http.MethodDelete, q, nil, preferRepresentation, &rows); err != nil {
		return err
	}
	_, err := first(rows, "scoring_rule", id)
	return err
}

func scoringRuleRow(in *domain.ScoringRuleInput) map[string]any {
	return map[string]any{
		"field":    in.Field,
		"operator": in.Operator,
		"value":    in.Value,
		"points":   in.Points,
		"active":   in.IsActive(),
	}
}

// ============================================================
// Stage rules
// ============================================================

func (c *Client) FindStageRule(ctx context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error) {
	var rows []domain.StageRule
	q := from(tableStageRules).
		eq("company_id", companyID).
		eq("pipeline_id", pipelineID).
		eq("stage", stage).
		limit(1)
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListStageRules(ctx context.Context, companyID, pipelineID string) ([]domain.StageRule, error) {
	q := from(tableStageRules).eq("company_id", companyID)
	if pipelineID != "" {
		q.eq("pipeline_id", pipelineID)
	}
	q.order("created_at", true)

	rows := []domain.StageRule{}
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertStageRule merges on (company_id, pipeline_id, stage). Omitted settings are written as null.
func (c *Client) UpsertStageRule(ctx context.Context, companyID string, in *domain.StageRuleInput) (*domain.StageRule, error) {
	row := map[string]any{
		"company_id":           companyID,
		"pipeline_id":          in.PipelineID,
		"stage":                in.Stage,
		"sla_days":             in.SLADays,
		"auto_assign_owner_id": in.AutoAssignOwnerID,
		"reminder_days_before": in.ReminderDaysBefore,
		"updated_at":           c.now(),
	}

	var rows []domain.StageRule
	q := from(tableStageRules).onConflict("company_id", "pipeline_id", "stage")
	if err := c.write(ctx, http.MethodPost, q, row, preferUpsert, &rows); err != nil {
		return nil, err
	}
	return first(rows, "stage_rule", in.PipelineID+"/"+in.Stage)
}

func (c *Client) DeleteStageRule(ctx context.Context, companyID, id string) (*domain.StageRule, error) {
	var rows []domain.StageRule
	q := from(tableStageRules).eq("id", id).eq("company_id", companyID)
	if err := c.write(ctx, http.MethodDelete, q, nil, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "stage_rule", id)
}

// ============================================================
// Pipelines
// ============================================================

func (c *Client) ListPipelines(ctx context.Context, companyID string) ([]domain.Pipeline, error) {
	rows := []domain.Pipeline{}
	q := from(tablePipelines).eq("company_id", companyID).order("created_at", true)
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) GetPipeline(ctx context.Context, companyID, id string) (*domain.Pipeline, error) {
	var rows []domain.Pipeline
	q := from(tablePipelines).eq("id", id).eq("company_id", companyID).limit(1)
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return first(rows, "pipeline", id)
}

func (c *Client) CreatePipeline(ctx context.Context, companyID string, in *domain.PipelineInput) (*domain.Pipeline, error) {
	row := map[string]any{
		"company_id": companyID,
		"name":       in.Name,
		"stages":     in.Stages,
	}

	var rows []domain.Pipeline
	if err := c.write(ctx, http.MethodPost, from(tablePipelines), row, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "pipeline", "new")
}
