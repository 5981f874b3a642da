package pgstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringList is a []string stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || raw == nil {
		*l = nil
		return err
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// JSONMap is a map[string]any stored as a JSON object.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(m))
	return string(b), err
}

func (m *JSONMap) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || raw == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(raw, (*map[string]any)(m))
}

func scanBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column type %T", src)
}

// base assigns a uuid primary key before insert.
type base struct {
	ID string `gorm:"primaryKey;type:uuid"`
}

func (b *base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// ============================================================
// Tables
// ============================================================

type opportunityModel struct {
	base
	CompanyID      string `gorm:"index;not null"`
	Name           string `gorm:"not null"`
	CustomerID     *string
	PipelineID     *string `gorm:"index"`
	Stage          *string
	Value          *float64
	Probability    *float64
	OwnerID        *string
	Status         *string
	Source         *string
	ScoreTotal     *int
	ScoreUpdatedAt *time.Time
	SLADueAt       *time.Time `gorm:"column:sla_due_at"`
	Tags           StringList `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (opportunityModel) TableName() string { return "opportunities" }

func (m *opportunityModel) toDomain() *domain.Opportunity {
	return &domain.Opportunity{
		ID:             m.ID,
		CompanyID:      m.CompanyID,
		Name:           m.Name,
		CustomerID:     m.CustomerID,
		PipelineID:     m.PipelineID,
		Stage:          m.Stage,
		Value:          m.Value,
		Probability:    m.Probability,
		OwnerID:        m.OwnerID,
		Status:         m.Status,
		Source:         m.Source,
		ScoreTotal:     m.ScoreTotal,
		ScoreUpdatedAt: m.ScoreUpdatedAt,
		SLADueAt:       m.SLADueAt,
		Tags:           []string(m.Tags),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type scoringRuleModel struct {
	base
	CompanyID string `gorm:"index;not null"`
	Field     string `gorm:"not null"`
	Operator  string `gorm:"not null"`
	Value     string `gorm:"not null"`
	Points    int    `gorm:"not null"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (scoringRuleModel) TableName() string { return "crm_scoring_rules" }

func (m *scoringRuleModel) toDomain() domain.ScoringRule {
	return domain.ScoringRule{
		ID:        m.ID,
		CompanyID: m.CompanyID,
		Field:     domain.ScoringField(m.Field),
		Operator:  domain.ScoringOperator(m.Operator),
		Value:     m.Value,
		Points:    m.Points,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type stageRuleModel struct {
	base
	CompanyID          string `gorm:"not null;uniqueIndex:idx_crm_stage_rules_key"`
	PipelineID         string `gorm:"not null;uniqueIndex:idx_crm_stage_rules_key"`
	Stage              string `gorm:"not null;uniqueIndex:idx_crm_stage_rules_key"`
	SLADays            *int   `gorm:"column:sla_days"`
	AutoAssignOwnerID  *string
	ReminderDaysBefore *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (stageRuleModel) TableName() string { return "crm_stage_rules" }

func (m *stageRuleModel) toDomain() *domain.StageRule {
	return &domain.StageRule{
		ID:                 m.ID,
		CompanyID:          m.CompanyID,
		PipelineID:         m.PipelineID,
		Stage:              m.Stage,
		SLADays:            m.SLADays,
		AutoAssignOwnerID:  m.AutoAssignOwnerID,
		ReminderDaysBefore: m.ReminderDaysBefore,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type pipelineModel struct {
	base
	CompanyID string     `gorm:"index;not null"`
	Name      string     `gorm:"not null"`
	Stages    StringList `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (pipelineModel) TableName() string { return "pipelines" }

func (m *pipelineModel) toDomain() *domain.Pipeline {
	return &domain.Pipeline{
		ID:        m.ID,
		CompanyID: m.CompanyID,
		Name:      m.Name,
		Stages:    []string(m.Stages),
		CreatedAt: m.CreatedAt,
	}
}

type activityModel struct {
	base
	CompanyID     string `gorm:"index;not null"`
	OpportunityID string `gorm:"index;not null"`
	Type          string `gorm:"not null"`
	Subject       string `gorm:"not null"`
	Notes         string
	OwnerID       *string
	DueAt         *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (activityModel) TableName() string { return "crm_activities" }

func (m *activityModel) toDomain() *domain.Activity {
	return &domain.Activity{
		ID:            m.ID,
		CompanyID:     m.CompanyID,
		OpportunityID: m.OpportunityID,
		Type:          domain.ActivityType(m.Type),
		Subject:       m.Subject,
		Notes:         m.Notes,
		OwnerID:       m.OwnerID,
		DueAt:         m.DueAt,
		CompletedAt:   m.CompletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type notificationModel struct {
	base
	UserID    string  `gorm:"index;not null"`
	CompanyID string  `gorm:"index;not null"`
	Type      string  `gorm:"not null"`
	Title     string  `gorm:"not null"`
	Message   string  `gorm:"not null"`
	Data      JSONMap `gorm:"type:jsonb"`
	ReadAt    *time.Time
	CreatedAt time.Time
}

func (notificationModel) TableName() string { return "notifications" }

func (m *notificationModel) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		CompanyID: m.CompanyID,
		Type:      domain.NotificationType(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		Data:      map[string]any(m.Data),
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}

type companyMemberModel struct {
	CompanyID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Role      string `gorm:"not null;default:''"`
	Email     string `gorm:"not null;default:''"`
	FullName  string `gorm:"not null;default:''"`
}

func (companyMemberModel) TableName() string { return "company_members" }

type notificationPreferenceModel struct {
	CompanyID    string `gorm:"primaryKey"`
	UserID       string `gorm:"primaryKey"`
	Type         string `gorm:"primaryKey"`
	InAppEnabled bool   `gorm:"not null"`
	EmailEnabled bool   `gorm:"not null"`
}

func (notificationPreferenceModel) TableName() string { return "notification_preferences" }

// Models lists every table, for AutoMigrate.
func Models() []any {
	return []any{
		&opportunityModel{},
		&scoringRuleModel{},
		&stageRuleModel{},
		&pipelineModel{},
		&activityModel{},
		&notificationModel{},
		&companyMemberModel{},
		&notificationPreferenceModel{},
	}
}
