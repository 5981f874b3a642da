package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================
// Scoring rules
// ============================================================

// ScoringField names the opportunity attribute a rule inspects.
type ScoringField string

const (
	FieldValue       ScoringField = "value"
	FieldProbability ScoringField = "probability"
	FieldStage       ScoringField = "stage"
	FieldStatus      ScoringField = "status"
	FieldSource      ScoringField = "source"
	FieldTags        ScoringField = "tags"
)

// FieldKind is the type family of a ScoringField.
type FieldKind int

const (
	FieldKindUnknown FieldKind = iota
	FieldKindNumeric
	FieldKindText
	FieldKindTextList
)

// Kind returns the type family of the field.
func (f ScoringField) Kind() FieldKind {
	switch f {
	case FieldValue, FieldProbability:
		return FieldKindNumeric
	case FieldStage, FieldStatus, FieldSource:
		return FieldKindText
	case FieldTags:
		return FieldKindTextList
	default:
		return FieldKindUnknown
	}
}

// ScoringOperator is a rule comparison.
type ScoringOperator string

const (
	OpEq       ScoringOperator = "eq"
	OpNeq      ScoringOperator = "neq"
	OpGt       ScoringOperator = "gt"
	OpGte      ScoringOperator = "gte"
	OpLt       ScoringOperator = "lt"
	OpLte      ScoringOperator = "lte"
	OpContains ScoringOperator = "contains"
)

// ValidFor reports whether the operator applies to the given field kind.
func (op ScoringOperator) ValidFor(kind FieldKind) bool {
	switch kind {
	case FieldKindNumeric:
		switch op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
			return true
		}
	case FieldKindText, FieldKindTextList:
		switch op {
		case OpEq, OpNeq, OpContains:
			return true
		}
	}
	return false
}

// ScoringRule adds Points to an opportunity's score when its predicate matches.
type ScoringRule struct {
	ID        string          `json:"id"`
	CompanyID string          `json:"company_id"`
	Field     ScoringField    `json:"field"`
	Operator  ScoringOperator `json:"operator"`
	Value     string          `json:"value"`
	Points    int             `json:"points"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScoringRuleInput is the create/update payload for a scoring rule.
type ScoringRuleInput struct {
	Field    ScoringField    `json:"field" yaml:"field"`
	Operator ScoringOperator `json:"operator" yaml:"operator"`
	Value    string          `json:"value" yaml:"value"`
	Points   int             `json:"points" yaml:"points"`
	Active   *bool           `json:"active,omitempty" yaml:"active,omitempty"`
}

// Validate enforces the field-kind / operator pairing and a parseable numeric target.
func (in *ScoringRuleInput) Validate() error {
	var errs ValidationErrors
	kind := in.Field.Kind()
	switch kind {
	case FieldKindUnknown:
		errs = append(errs, &ErrValidation{Field: "field", Message: fmt.Sprintf("unknown field %q", in.Field)})
	case FieldKindNumeric:
		if !in.Operator.ValidFor(kind) {
			errs = append(errs, &ErrValidation{Field: "operator", Message: fmt.Sprintf("%q is not a numeric operator", in.Operator)})
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(in.Value), 64); err != nil {
			errs = append(errs, &ErrValidation{Field: "value", Message: "must be a number"})
		}
	case FieldKindText, FieldKindTextList:
		if !in.Operator.ValidFor(kind) {
			errs = append(errs, &ErrValidation{Field: "operator", Message: fmt.Sprintf("%q is not a text operator", in.Operator)})
		}
		if strings.TrimSpace(in.Value) == "" {
			errs = append(errs, &ErrValidation{Field: "value", Message: "required"})
		}
	}
	return errs.OrNil()
}

// IsActive defaults to true when the flag is omitted.
func (in *ScoringRuleInput) IsActive() bool {
	return in.Active == nil || *in.Active
}

// RecalcResult summarises one RecalculateCompany run.
type RecalcResult struct {
	CompanyID string         `json:"company_id"`
	Total     int            `json:"total"`
	Updated   int            `json:"updated"`
	Failures  []ScoreFailure `json:"failures,omitempty"`
}

// ScoreFailure records a score write that did not go through.
type ScoreFailure struct {
	OpportunityID string `json:"opportunity_id"`
	Score         int    `json:"score"`
	Error         string `json:"error"`
}
