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
	"golang.org/x/sync/errgroup"
)

var notifyTracer = otel.Tracer("service/notification")

// NotificationService resolves recipients for CRM events and delivers
// in-app notifications plus a best-effort email batch.
type NotificationService struct {
	store          port.NotificationStore
	email          port.EmailSender
	maxConcurrency int
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewNotificationService creates the fan-out service. A nil email sender disables email.
func NewNotificationService(store port.NotificationStore, email port.EmailSender, maxConcurrency int, metrics *observability.Metrics, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		store:          store,
		email:          email,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		logger:         logger,
	}
}

// Notify delivers one event to every resolved target.
//
// In-app creation is attempted for all targets; the report has one result per target and
// the first failure (in target order) is returned. Email is dispatched once for the
// email-enabled targets and its failure is only logged.
func (s *NotificationService) Notify(ctx context.Context, in domain.NotifyInput) (*domain.NotifyReport, error) {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", in.CompanyID),
		attribute.String("notification.type", string(in.Type)),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("notify", time.Since(start)) }()

	if in.CompanyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "required"}
	}
	if in.Type == "" {
		return nil, &domain.ErrValidation{Field: "type", Message: "required"}
	}

	targets, err := s.resolveTargets(ctx, in)
	if err != nil {
		return nil, err
	}

	report := &domain.NotifyReport{Targets: targets}
	if len(targets) == 0 {
		s.logger.Debug("notify: no targets",
			zap.String("company_id", in.CompanyID),
			zap.String("type", string(in.Type)),
		)
		return report, nil
	}

	report.Deliveries = s.deliverInApp(ctx, in, targets)
	s.dispatchEmail(ctx, in, targets, report)

	for _, d := range report.Deliveries {
		if d.Err != nil {
			return report, fmt.Errorf("notify %s to user %s: %w", in.Type, d.UserID, d.Err)
		}
	}
	return report, nil
}

func (s *NotificationService) resolveTargets(ctx context.Context, in domain.NotifyInput) ([]domain.NotificationTarget, error) {
	if in.UserIDs == nil {
		targets, err := s.store.GetUsersToNotify(ctx, in.CompanyID, in.Type)
		if err != nil {
			return nil, fmt.Errorf("resolve subscribers: %w", err)
		}
		return targets, nil
	}

	seen := make(map[string]bool, len(in.UserIDs))
	targets := make([]domain.NotificationTarget, 0, len(in.UserIDs))
	for _, userID := range in.UserIDs {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true

		t, err := s.store.GetUserNotificationTarget(ctx, in.CompanyID, userID, in.Type)
		if err != nil {
			return nil, fmt.Errorf("resolve user %s: %w", userID, err)
		}
		if t == nil {
			continue
		}
		if t.UserID == "" {
			t.UserID = userID
		}
		targets = append(targets, *t)
	}
	return targets, nil
}

func (s *NotificationService) deliverInApp(ctx context.Context, in domain.NotifyInput, targets []domain.NotificationTarget) []domain.DeliveryResult {
	results := make([]domain.DeliveryResult, len(targets))

	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			results[i].UserID = t.UserID
			n, err := s.store.CreateNotification(ctx, &domain.Notification{
				UserID:    t.UserID,
				CompanyID: in.CompanyID,
				Type:      in.Type,
				Title:     in.Title,
				Message:   in.Message,
				Data:      in.Data,
			})
			if err != nil {
				results[i].Err = err
				s.metrics.IncrNotification(in.Type, "failed")
				s.logger.Error("failed to create notification",
					zap.String("company_id", in.CompanyID),
					zap.String("user_id", t.UserID),
					zap.String("type", string(in.Type)),
					zap.Error(err),
				)
				return nil
			}
			if n != nil {
				results[i].NotificationID = n.ID
			}
			s.metrics.IncrNotification(in.Type, "sent")
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *NotificationService) dispatchEmail(ctx context.Context, in domain.NotifyInput, targets []domain.NotificationTarget, report *domain.NotifyReport) {
	if s.email == nil {
		return
	}

	var recipients []domain.EmailRecipient
	for _, t := range targets {
		if t.WantsEmail() {
			recipients = append(recipients, domain.EmailRecipient{Email: t.Email, Name: t.FullName})
		}
	}
	if len(recipients) == 0 {
		return
	}

	report.EmailAttempted = true
	report.EmailRecipients = len(recipients)

	err := s.email.Send(ctx, &domain.EmailMessage{
		Recipients: recipients,
		Subject:    in.Title,
		Message:    in.Message,
	})
	if err != nil {
		report.EmailErr = err
		s.metrics.IncrEmail("failed")
		s.logger.Warn("notification email failed",
			zap.String("company_id", in.CompanyID),
			zap.String("type", string(in.Type)),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncrEmail("sent")
}

// ============================================================
// Inbox
// ============================================================

func (s *NotificationService) ListForUser(ctx context.Context, companyID, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.ListForUser")
	defer span.End()

	return s.store.ListNotifications(ctx, companyID, userID, unreadOnly, page, pageSize)
}

func (s *NotificationService) MarkRead(ctx context.Context, companyID, userID, id string) error {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.MarkRead")
	defer span.End()

	return s.store.MarkNotificationRead(ctx, companyID, userID, id)
}
