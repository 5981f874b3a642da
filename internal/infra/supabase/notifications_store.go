package supabase

import (
	"context"
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
)

const tableNotifications = "notifications"

// CreateNotification goes through rpc/create_notification, which enforces the
// recipient's membership server-side.
func (c *Client) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	args := map[string]any{
		"p_user_id":    n.UserID,
		"p_company_id": n.CompanyID,
		"p_type":       n.Type,
		"p_title":      n.Title,
		"p_message":    n.Message,
		"p_data":       n.Data,
	}

	var created domain.Notification
	if err := c.rpc(ctx, "create_notification", args, false, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		created = *n
	}
	return &created, nil
}

func (c *Client) GetUsersToNotify(ctx context.Context, companyID string, nt domain.NotificationType) ([]domain.NotificationTarget, error) {
	targets := []domain.NotificationTarget{}
	err := c.rpc(ctx, "get_users_to_notify", map[string]any{
		"p_company_id":        companyID,
		"p_notification_type": nt,
	}, true, &targets)
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func (c *Client) GetUserNotificationTarget(ctx context.Context, companyID, userID string, nt domain.NotificationType) (*domain.NotificationTarget, error) {
	var targets []domain.NotificationTarget
	err := c.rpc(ctx, "get_user_notification_target", map[string]any{
		"p_company_id":        companyID,
		"p_user_id":           userID,
		"p_notification_type": nt,
	}, true, &targets)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return &targets[0], nil
}

func (c *Client) ListNotifications(ctx context.Context, companyID, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	q := from(tableNotifications).eq("company_id", companyID).eq("user_id", userID)
	if unreadOnly {
		q.isNull("read_at")
	}
	q.order("created_at", false).page(page, pageSize)

	rows := []domain.Notification{}
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkNotificationRead sets read_at once; marking an already read notification is a no-op.
func (c *Client) MarkNotificationRead(ctx context.Context, companyID, userID, id string) error {
	var rows []domain.Notification
	q := from(tableNotifications).eq("id", id).eq("company_id", companyID).eq("user_id", userID).limit(1)
	if err := c.get(ctx, q, &rows); err != nil {
		return err
	}
	n, err := first(rows, "notification", id)
	if err != nil {
		return err
	}
	if n.ReadAt != nil {
		return nil
	}

	patch := from(tableNotifications).eq("id", id).eq("company_id", companyID).eq("user_id", userID).isNull("read_at")
	return c.write(ctx, http.MethodPatch, patch, map[string]any{"read_at": c.now()}, preferMinimal, nil)
}
