package service

import (
	"fmt"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
)

const messageDateLayout = "2006-01-02"

type message struct {
	title string
	body  string
}

func autoAssignMessage(name, stage string) message {
	return message{
		title: "Opportunity assigned",
		body:  fmt.Sprintf("You were assigned to opportunity %q in stage %s.", name, stage),
	}
}

func slaAssignedMessage(name, stage string, due time.Time) message {
	return message{
		title: "SLA deadline set",
		body:  fmt.Sprintf("Opportunity %q in stage %s must move forward by %s.", name, stage, due.Format(messageDateLayout)),
	}
}

func reminderCreatedMessage(name string, due time.Time) message {
	return message{
		title: "Reminder created",
		body:  fmt.Sprintf("A follow-up task for %q is due on %s.", name, due.Format(messageDateLayout)),
	}
}

func stageChangedMessage(name, stage string) message {
	return message{
		title: "Opportunity stage changed",
		body:  fmt.Sprintf("Opportunity %q moved to stage %s.", name, stage),
	}
}

// reminderActivity renders the subject and notes of the automatic follow-up task.
func reminderActivity(name, stage string, due time.Time, slaDue *time.Time) (subject, notes string) {
	subject = fmt.Sprintf("Follow up: %s", name)
	notes = fmt.Sprintf("Automatic reminder for stage %s.\nDue: %s", stage, due.Format(messageDateLayout))
	if slaDue != nil {
		notes += fmt.Sprintf("\nSLA deadline: %s", slaDue.Format(messageDateLayout))
	}
	return subject, notes
}

func opportunityData(opp *domain.Opportunity) map[string]any {
	data := map[string]any{"opportunity_id": opp.ID}
	if opp.PipelineID != nil {
		data["pipeline_id"] = *opp.PipelineID
	}
	if opp.Stage != nil {
		data["stage"] = *opp.Stage
	}
	if opp.SLADueAt != nil {
		data["sla_due_at"] = opp.SLADueAt.UTC().Format(time.RFC3339)
	}
	return data
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
