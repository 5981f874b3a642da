package supabase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
)

const (
	tableOpportunities = "opportunities"
	tableActivities    = "crm_activities"
)

func (c *Client) CreateOpportunity(ctx context.Context, companyID string, in *domain.OpportunityInput) (*domain.Opportunity, error) {
	row := map[string]any{
		"company_id":  companyID,
		"name":        strings.TrimSpace(in.Name),
		"customer_id": in.CustomerID,
		"pipeline_id": in.PipelineID,
		"stage":       in.Stage,
		"value":       in.Value,
		"probability": in.Probability,
		"owner_id":    in.OwnerID,
		"status":      in.Status,
		"source":      in.Source,
		"tags":        nonNilTags(in.Tags),
	}

	var rows []domain.Opportunity
	if err := c.write(ctx, http.MethodPost, from(tableOpportunities), row, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "opportunity", "new")
}

func (c *Client) GetOpportunity(ctx context.Context, companyID, id string) (*domain.Opportunity, error) {
	var rows []domain.Opportunity
	q := from(tableOpportunities).eq("id", id).eq("company_id", companyID).limit(1)
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return first(rows, "opportunity", id)
}

func (c *Client) ListOpportunities(ctx context.Context, companyID string, f domain.OpportunityFilter) ([]domain.Opportunity, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	q := from(tableOpportunities).eq("company_id", companyID)
	if f.PipelineID != "" {
		q.eq("pipeline_id", f.PipelineID)
	}
	if f.Stage != "" {
		q.eq("stage", f.Stage)
	}
	if f.OwnerID != "" {
		q.eq("owner_id", f.OwnerID)
	}
	if f.Status != "" {
		q.eq("status", f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.ilike("name", s)
	}
	q.order(f.OrderBy, f.Ascending).page(f.Page, f.PageSize)

	rows := []domain.Opportunity{}
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllOpportunities pages through the tenant's opportunities in id order.
func (c *Client) ListAllOpportunities(ctx context.Context, companyID string) ([]domain.Opportunity, error) {
	const batch = 500

	var all []domain.Opportunity
	for page := 1; ; page++ {
		var rows []domain.Opportunity
		q := from(tableOpportunities).eq("company_id", companyID).order("id", true).page(page, batch)
		if err := c.get(ctx, q, &rows); err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < batch {
			return all, nil
		}
	}
}

func (c *Client) UpdateOpportunity(ctx context.Context, companyID, id string, cols map[string]any) (*domain.Opportunity, error) {
	if tags, ok := cols["tags"].([]string); ok {
		patch := make(map[string]any, len(cols))
		for k, v := range cols {
			patch[k] = v
		}
		patch["tags"] = nonNilTags(tags)
		cols = patch
	}

	var rows []domain.Opportunity
	q := from(tableOpportunities).eq("id", id).eq("company_id", companyID)
	if err := c.write(ctx, http.MethodPatch, q, cols, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "opportunity", id)
}

func (c *Client) UpdateOpportunityScore(ctx context.Context, companyID, id string, score int, at time.Time) error {
	var rows []struct {
		ID string `json:"id"`
	}
	q := from(tableOpportunities).eq("id", id).eq("company_id", companyID).selectCols("id")
	err := c.write(ctx, http.MethodPatch, q, map[string]any{
		"score_total":      score,
		"score_updated_at": at,
	}, preferRepresentation, &rows)
	if err != nil {
		return err
	}
	_, err = first(rows, "opportunity", id)
	return err
}

func (c *Client) DeleteOpportunity(ctx context.Context, companyID, id string) error {
	var rows []struct {
		ID string `json:"id"`
	}
	q := from(tableOpportunities).eq("id", id).eq("company_id", companyID).selectCols("id")
	if err := c.write(ctx, http.MethodDelete, q, nil, preferRepresentation, &rows); err != nil {
		return err
	}
	_, err := first(rows, "opportunity", id)
	return err
}

// ============================================================
// Activities
// ============================================================

func (c *Client) CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	row := map[string]any{
		"company_id":     a.CompanyID,
		"opportunity_id": a.OpportunityID,
		"type":           a.Type,
		"subject":        a.Subject,
		"notes":          a.Notes,
		"owner_id":       a.OwnerID,
		"due_at":         a.DueAt,
		"completed_at":   a.CompletedAt,
	}

	var rows []domain.Activity
	if err := c.write(ctx, http.MethodPost, from(tableActivities), row, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows, "activity", "new")
}

func (c *Client) ListActivities(ctx context.Context, companyID, opportunityID string) ([]domain.Activity, error) {
	rows := []domain.Activity{}
	q := from(tableActivities).
		eq("company_id", companyID).
		eq("opportunity_id", opportunityID).
		order("created_at", true)
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
