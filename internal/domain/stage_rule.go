package domain

import (
	"strings"
	"time"
)

// ============================================================
// Stage rules (per pipeline + stage automation)
// ============================================================

// StageRule is unique per (CompanyID, PipelineID, Stage).
type StageRule struct {
	ID                 string    `json:"id"`
	CompanyID          string    `json:"company_id"`
	PipelineID         string    `json:"pipeline_id"`
	Stage              string    `json:"stage"`
	SLADays            *int      `json:"sla_days,omitempty"`
	AutoAssignOwnerID  *string   `json:"auto_assign_owner_id,omitempty"`
	ReminderDaysBefore *int      `json:"reminder_days_before,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasSLA reports whether SLADays is a positive integer.
func (r *StageRule) HasSLA() bool {
	return r.SLADays != nil && *r.SLADays > 0
}

// HasAutoAssign reports whether an owner is configured.
func (r *StageRule) HasAutoAssign() bool {
	return r.AutoAssignOwnerID != nil && *r.AutoAssignOwnerID != ""
}

// HasReminder reports whether a reminder lead time is configured.
func (r *StageRule) HasReminder() bool {
	return r.ReminderDaysBefore != nil && *r.ReminderDaysBefore >= 0
}

// StageRuleInput is the upsert payload for a stage rule.
type StageRuleInput struct {
	PipelineID         string  `json:"pipeline_id" yaml:"pipeline_id"`
	Stage              string  `json:"stage" yaml:"stage"`
	SLADays            *int    `json:"sla_days,omitempty" yaml:"sla_days,omitempty"`
	AutoAssignOwnerID  *string `json:"auto_assign_owner_id,omitempty" yaml:"auto_assign_owner_id,omitempty"`
	ReminderDaysBefore *int    `json:"reminder_days_before,omitempty" yaml:"reminder_days_before,omitempty"`
}

// Validate checks the conflict key and the optional day counts.
func (in *StageRuleInput) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(in.PipelineID) == "" {
		errs = append(errs, &ErrValidation{Field: "pipeline_id", Message: "required"})
	}
	if strings.TrimSpace(in.Stage) == "" {
		errs = append(errs, &ErrValidation{Field: "stage", Message: "required"})
	}
	if in.SLADays != nil && *in.SLADays <= 0 {
		errs = append(errs, &ErrValidation{Field: "sla_days", Message: "must be a positive integer"})
	}
	if in.ReminderDaysBefore != nil && *in.ReminderDaysBefore < 0 {
		errs = append(errs, &ErrValidation{Field: "reminder_days_before", Message: "must be >= 0"})
	}
	if in.AutoAssignOwnerID != nil && strings.TrimSpace(*in.AutoAssignOwnerID) == "" {
		errs = append(errs, &ErrValidation{Field: "auto_assign_owner_id", Message: "must not be blank"})
	}
	return errs.OrNil()
}

// StageRuleTrigger identifies the opportunity that just entered a stage.
type StageRuleTrigger struct {
	CompanyID     string
	PipelineID    string
	Stage         string
	OpportunityID string
}

// StageRuleOutcome reports what ApplyForOpportunity did.
type StageRuleOutcome struct {
	Matched            bool               `json:"matched"`
	RuleID             string             `json:"rule_id,omitempty"`
	Updated            bool               `json:"updated"`
	AssignedOwnerID    string             `json:"assigned_owner_id,omitempty"`
	SLADueAt           *time.Time         `json:"sla_due_at,omitempty"`
	ReminderActivityID string             `json:"reminder_activity_id,omitempty"`
	ReminderDueAt      *time.Time         `json:"reminder_due_at,omitempty"`
	Notifications      []NotificationType `json:"notifications,omitempty"`
}

// ============================================================
// Pipelines
// ============================================================

// Pipeline is an ordered list of stage keys.
type Pipeline struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Stages    []string  `json:"stages"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineInput is the create payload for a pipeline.
type PipelineInput struct {
	Name   string   `json:"name" yaml:"name"`
	Stages []string `json:"stages" yaml:"stages"`
}

// Validate requires a name and at least one unique, non-blank stage.
func (in *PipelineInput) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, &ErrValidation{Field: "name", Message: "required"})
	}
	if len(in.Stages) == 0 {
		errs = append(errs, &ErrValidation{Field: "stages", Message: "at least one stage is required"})
	}
	seen := make(map[string]bool, len(in.Stages))
	for _, s := range in.Stages {
		key := strings.TrimSpace(s)
		if key == "" {
			errs = append(errs, &ErrValidation{Field: "stages", Message: "stage keys must not be blank"})
			break
		}
		if seen[key] {
			errs = append(errs, &ErrValidation{Field: "stages", Message: "duplicate stage " + key})
			break
		}
		seen[key] = true
	}
	return errs.OrNil()
}
