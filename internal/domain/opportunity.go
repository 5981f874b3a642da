package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Opportunities (CRM deals)
// ============================================================

// Opportunity is a sales deal owned by a single company.
// Nullable columns are pointers so "unset" survives a round trip through the store.
type Opportunity struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	Name           string     `json:"name"`
	CustomerID     *string    `json:"customer_id,omitempty"`
	PipelineID     *string    `json:"pipeline_id,omitempty"`
	Stage          *string    `json:"stage,omitempty"`
	Value          *float64   `json:"value,omitempty"`
	Probability    *float64   `json:"probability,omitempty"`
	OwnerID        *string    `json:"owner_id,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Source         *string    `json:"source,omitempty"`
	ScoreTotal     *int       `json:"score_total,omitempty"`
	ScoreUpdatedAt *time.Time `json:"score_updated_at,omitempty"`
	SLADueAt       *time.Time `json:"sla_due_at,omitempty"`
	Tags           []string   `json:"tags"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OpportunityInput is the payload accepted by OpportunityService.Create.
type OpportunityInput struct {
	Name        string   `json:"name"`
	CustomerID  *string  `json:"customer_id,omitempty"`
	PipelineID  *string  `json:"pipeline_id,omitempty"`
	Stage       *string  `json:"stage,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Probability *float64 `json:"probability,omitempty"`
	OwnerID     *string  `json:"owner_id,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Source      *string  `json:"source,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// OpportunityPatch is a partial update. A non-nil field is "part of the update".
type OpportunityPatch struct {
	Name        *string   `json:"name,omitempty"`
	CustomerID  *string   `json:"customer_id,omitempty"`
	PipelineID  *string   `json:"pipeline_id,omitempty"`
	Stage       *string   `json:"stage,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Probability *float64  `json:"probability,omitempty"`
	OwnerID     *string   `json:"owner_id,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Source      *string   `json:"source,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// OpportunityFilter drives List queries.
type OpportunityFilter struct {
	PipelineID string
	Stage      string
	OwnerID    string
	Status     string
	Search     string // ilike on name
	Page       int
	PageSize   int
	OrderBy    string
	Ascending  bool
}

// sortable columns for OpportunityFilter.OrderBy
var opportunityOrderColumns = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"name":        true,
	"value":       true,
	"probability": true,
	"score_total": true,
	"sla_due_at":  true,
}

// Validate checks the fields the create path actually carries.
func (in *OpportunityInput) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, &ErrValidation{Field: "name", Message: "required"})
	}
	errs = append(errs, validateOpportunityNumbers(in.Value, in.Probability)...)
	errs = append(errs, validateTags(in.Tags)...)
	if in.Stage != nil && strings.TrimSpace(*in.Stage) == "" {
		errs = append(errs, &ErrValidation{Field: "stage", Message: "must not be blank"})
	}
	return errs.OrNil()
}

// Validate checks only the fields present in the patch.
func (p *OpportunityPatch) Validate() error {
	var errs ValidationErrors
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		errs = append(errs, &ErrValidation{Field: "name", Message: "required"})
	}
	errs = append(errs, validateOpportunityNumbers(p.Value, p.Probability)...)
	if p.Tags != nil {
		errs = append(errs, validateTags(*p.Tags)...)
	}
	if p.Stage != nil && strings.TrimSpace(*p.Stage) == "" {
		errs = append(errs, &ErrValidation{Field: "stage", Message: "must not be blank"})
	}
	if p.IsEmpty() {
		errs = append(errs, &ErrValidation{Field: "body", Message: "no fields to update"})
	}
	return errs.OrNil()
}

// IsEmpty reports whether no field is part of the update.
func (p *OpportunityPatch) IsEmpty() bool {
	return p.Name == nil && p.CustomerID == nil && p.PipelineID == nil && p.Stage == nil &&
		p.Value == nil && p.Probability == nil && p.OwnerID == nil && p.Status == nil &&
		p.Source == nil && p.Tags == nil
}

// TouchesStage reports whether the patch moves the opportunity to another stage or pipeline.
func (p *OpportunityPatch) TouchesStage() bool {
	return p.Stage != nil || p.PipelineID != nil
}

// Columns returns the patch as a column → value map for the store.
func (p *OpportunityPatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Name != nil {
		cols["name"] = strings.TrimSpace(*p.Name)
	}
	if p.CustomerID != nil {
		cols["customer_id"] = *p.CustomerID
	}
	if p.PipelineID != nil {
		cols["pipeline_id"] = *p.PipelineID
	}
	if p.Stage != nil {
		cols["stage"] = *p.Stage
	}
	if p.Value != nil {
		cols["value"] = *p.Value
	}
	if p.Probability != nil {
		cols["probability"] = *p.Probability
	}
	if p.OwnerID != nil {
		cols["owner_id"] = *p.OwnerID
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Source != nil {
		cols["source"] = *p.Source
	}
	if p.Tags != nil {
		cols["tags"] = *p.Tags
	}
	return cols
}

// Normalize fills paging defaults and rejects unknown order columns.
func (f *OpportunityFilter) Normalize() error {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	if f.OrderBy == "" {
		f.OrderBy = "created_at"
	}
	if !opportunityOrderColumns[f.OrderBy] {
		return &ErrValidation{Field: "order", Message: fmt.Sprintf("cannot order by %q", f.OrderBy)}
	}
	return nil
}

func validateOpportunityNumbers(value, probability *float64) ValidationErrors {
	var errs ValidationErrors
	if value != nil && *value < 0 {
		errs = append(errs, &ErrValidation{Field: "value", Message: "must be >= 0"})
	}
	if probability != nil && (*probability < 0 || *probability > 100) {
		errs = append(errs, &ErrValidation{Field: "probability", Message: "must be between 0 and 100"})
	}
	return errs
}

func validateTags(tags []string) ValidationErrors {
	for i, t := range tags {
		if strings.TrimSpace(t) == "" {
			return ValidationErrors{&ErrValidation{Field: fmt.Sprintf("tags[%d]", i), Message: "must not be blank"}}
		}
	}
	return nil
}
