package domain

import "time"

// ============================================================
// Notifications
// ============================================================

// NotificationType is the event key users subscribe to.
type NotificationType string

const (
	NotifyAutoAssign      NotificationType = "crm_auto_assign"
	NotifySLAAssigned     NotificationType = "crm_sla_assigned"
	NotifyReminderCreated NotificationType = "crm_reminder_created"
	NotifyStageChanged    NotificationType = "crm_stage_changed"
)

// Notification is one persisted in-app notification row.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	CompanyID string           `json:"company_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationTarget is a resolved recipient.
type NotificationTarget struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role,omitempty"`
	Email        string `json:"email,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	EmailEnabled bool   `json:"email_enabled"`
}

// WantsEmail reports whether the target should be included in the email batch.
func (t NotificationTarget) WantsEmail() bool {
	return t.EmailEnabled && t.Email != ""
}

// NotifyInput is the fan-out request.
// A nil UserIDs resolves every subscriber of Type; a non-nil slice resolves only those users.
type NotifyInput struct {
	CompanyID string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	UserIDs   []string
}

// DeliveryResult is the in-app outcome for one target.
type DeliveryResult struct {
	UserID         string `json:"user_id"`
	NotificationID string `json:"notification_id,omitempty"`
	Err            error  `json:"-"`
}

// NotifyReport lists every attempted delivery. Failures do not imply the others failed.
type NotifyReport struct {
	Targets         []NotificationTarget `json:"targets"`
	Deliveries      []DeliveryResult     `json:"deliveries"`
	EmailAttempted  bool                 `json:"email_attempted"`
	EmailRecipients int                  `json:"email_recipients"`
	EmailErr        error                `json:"-"`
}

// Failed returns the deliveries that did not persist.
func (r *NotifyReport) Failed() []DeliveryResult {
	var out []DeliveryResult
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// EmailRecipient is one address in an email dispatch.
type EmailRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// EmailMessage is the payload handed to the email dispatch collaborator.
type EmailMessage struct {
	Recipients []EmailRecipient `json:"recipients"`
	Subject    string           `json:"subject"`
	Message    string           `json:"message"`
}

// ============================================================
// Activities
// ============================================================

// ActivityType classifies an activity row.
type ActivityType string

const (
	ActivityTask    ActivityType = "task"
	ActivityNote    ActivityType = "note"
	ActivityCall    ActivityType = "call"
	ActivityEmail   ActivityType = "email"
	ActivityMeeting ActivityType = "meeting"
)

// Activity is a task/note/call/email/meeting linked to an opportunity.
type Activity struct {
	ID            string       `json:"id"`
	CompanyID     string       `json:"company_id"`
	OpportunityID string       `json:"opportunity_id"`
	Type          ActivityType `json:"type"`
	Subject       string       `json:"subject"`
	Notes         string       `json:"notes,omitempty"`
	OwnerID       *string      `json:"owner_id,omitempty"`
	DueAt         *time.Time   `json:"due_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AutomationMetrics is the snapshot served by GET /v1/metrics/automation.
type AutomationMetrics struct {
	OpportunitiesScored float64 `json:"opportunities_scored"`
	ScoresUpdated       float64 `json:"scores_updated"`
	StageRulesMatched   float64 `json:"stage_rules_matched"`
	StageRulesSkipped   float64 `json:"stage_rules_skipped"`
	NotificationsSent   float64 `json:"notifications_sent"`
	NotificationsFailed float64 `json:"notifications_failed"`
	EmailsSent          float64 `json:"emails_sent"`
	EmailsFailed        float64 `json:"emails_failed"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
}

// CompanyMember is a user belonging to a company.
type CompanyMember struct {
	CompanyID string `json:"company_id" yaml:"company_id"`
	UserID    string `json:"user_id" yaml:"user_id"`
	Role      string `json:"role,omitempty" yaml:"role,omitempty"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	FullName  string `json:"full_name,omitempty" yaml:"full_name,omitempty"`
}

// NotificationPreference is a member's opt-in for one notification type.
// Members without a preference row receive in-app notifications and no email.
type NotificationPreference struct {
	CompanyID    string           `json:"company_id" yaml:"company_id"`
	UserID       string           `json:"user_id" yaml:"user_id"`
	Type         NotificationType `json:"type" yaml:"type"`
	InAppEnabled bool             `json:"in_app_enabled" yaml:"in_app_enabled"`
	EmailEnabled bool             `json:"email_enabled" yaml:"email_enabled"`
}

// ResolveTarget applies pref (which may be nil) to m. It returns false when the
// member opted out of in-app notifications for the type.
func ResolveTarget(m CompanyMember, pref *NotificationPreference) (NotificationTarget, bool) {
	t := NotificationTarget{
		UserID:   m.UserID,
		Role:     m.Role,
		Email:    m.Email,
		FullName: m.FullName,
	}
	if pref == nil {
		return t, true
	}
	if !pref.InAppEnabled {
		return NotificationTarget{}, false
	}
	t.EmailEnabled = pref.EmailEnabled
	return t, true
}
