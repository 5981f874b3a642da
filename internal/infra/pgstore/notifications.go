package pgstore

import (
	"context"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"

	"gorm.io/gorm"
)

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateNotification")
	defer span.End()

	m := notificationModel{
		UserID:    n.UserID,
		CompanyID: n.CompanyID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      JSONMap(n.Data),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, s.wrap("notifications", "", err)
	}
	return m.toDomain(), nil
}

// targetRow is one member joined with its optional preference for a type.
type targetRow struct {
	UserID       string
	Role         string
	Email        string
	FullName     string
	InAppEnabled *bool
	EmailEnabled *bool
}

func (r targetRow) resolve(companyID string, nt domain.NotificationType) (domain.NotificationTarget, bool) {
	m := domain.CompanyMember{
		CompanyID: companyID,
		UserID:    r.UserID,
		Role:      r.Role,
		Email:     r.Email,
		FullName:  r.FullName,
	}
	var pref *domain.NotificationPreference
	if r.InAppEnabled != nil {
		pref = &domain.NotificationPreference{
			CompanyID:    companyID,
			UserID:       r.UserID,
			Type:         nt,
			InAppEnabled: *r.InAppEnabled,
			EmailEnabled: r.EmailEnabled != nil && *r.EmailEnabled,
		}
	}
	return domain.ResolveTarget(m, pref)
}

func (s *Store) targets(ctx context.Context, companyID string, nt domain.NotificationType) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("company_members AS m").
		Select("m.user_id, m.role, m.email, m.full_name, p.in_app_enabled, p.email_enabled").
		Joins("LEFT JOIN notification_preferences AS p ON p.company_id = m.company_id AND p.user_id = m.user_id AND p.type = ?", string(nt)).
		Where("m.company_id = ?", companyID)
}

func (s *Store) GetUsersToNotify(ctx context.Context, companyID string, nt domain.NotificationType) ([]domain.NotificationTarget, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetUsersToNotify")
	defer span.End()

	var rows []targetRow
	if err := s.targets(ctx, companyID, nt).Order("m.user_id").Scan(&rows).Error; err != nil {
		return nil, s.wrap("company_members", "", err)
	}

	out := make([]domain.NotificationTarget, 0, len(rows))
	for _, r := range rows {
		if t, ok := r.resolve(companyID, nt); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetUserNotificationTarget(ctx context.Context, companyID, userID string, nt domain.NotificationType) (*domain.NotificationTarget, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetUserNotificationTarget")
	defer span.End()

	var rows []targetRow
	if err := s.targets(ctx, companyID, nt).Where("m.user_id = ?", userID).Limit(1).Scan(&rows).Error; err != nil {
		return nil, s.wrap("company_members", userID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t, ok := rows[0].resolve(companyID, nt)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) ListNotifications(ctx context.Context, companyID, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListNotifications")
	defer span.End()

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	q := s.db.WithContext(ctx).Where("company_id = ? AND user_id = ?", companyID, userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var rows []notificationModel
	if err := q.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, s.wrap("notifications", "", err)
	}
	out := make([]domain.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, companyID, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.MarkNotificationRead")
	defer span.End()

	var m notificationModel
	if err := s.db.WithContext(ctx).Where("id = ? AND company_id = ? AND user_id = ?", id, companyID, userID).First(&m).Error; err != nil {
		return s.wrap("notification", id, err)
	}
	if m.ReadAt != nil {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&notificationModel{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", time.Now()).Error
	return s.wrap("notifications", id, err)
}
