package memstore

import (
	"context"
	"maps"
	"sort"

	"github.com/varejoflow/crm-automation/internal/domain"
)

// ============================================================
// Activities
// ============================================================

func (s *Store) CreateActivity(_ context.Context, a *domain.Activity) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp, ok := s.opportunities[a.OpportunityID]
	if !ok || opp.CompanyID != a.CompanyID {
		return nil, notFound("opportunity", a.OpportunityID)
	}

	now := s.now()
	row := *a
	row.ID = s.insertID()
	row.CreatedAt = now
	row.UpdatedAt = now
	s.activities[row.ID] = &row

	c := row
	return &c, nil
}

func (s *Store) ListActivities(_ context.Context, companyID, opportunityID string) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Activity{}
	for _, a := range s.activities {
		if a.CompanyID == companyID && a.OpportunityID == opportunityID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

// ============================================================
// Notifications
// ============================================================

func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *n
	row.ID = s.insertID()
	row.CreatedAt = s.now()
	row.Data = maps.Clone(n.Data)
	s.notifications[row.ID] = &row

	c := row
	return &c, nil
}

func (s *Store) GetUsersToNotify(_ context.Context, companyID string, nt domain.NotificationType) ([]domain.NotificationTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := []domain.NotificationTarget{}
	for _, m := range s.members[companyID] {
		if t, ok := s.resolveLocked(m, nt); ok {
			targets = append(targets, t)
		}
	}
	return targets, nil
}

func (s *Store) GetUserNotificationTarget(_ context.Context, companyID, userID string, nt domain.NotificationType) (*domain.NotificationTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members[companyID] {
		if m.UserID != userID {
			continue
		}
		if t, ok := s.resolveLocked(m, nt); ok {
			return &t, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (s *Store) resolveLocked(m domain.CompanyMember, nt domain.NotificationType) (domain.NotificationTarget, bool) {
	var pref *domain.NotificationPreference
	if p, ok := s.prefs[prefKey{m.CompanyID, m.UserID, nt}]; ok {
		pref = &p
	}
	return domain.ResolveTarget(m, pref)
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(_ context.Context, companyID, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.Notification
	for _, n := range s.notifications {
		if n.CompanyID != companyID || n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		rows = append(rows, n)
	}
	sort.Slice(rows, func(i, j int) bool { return s.seq[rows[i].ID] > s.seq[rows[j].ID] })

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	from := (page - 1) * pageSize
	out := []domain.Notification{}
	if from >= len(rows) {
		return out, nil
	}
	for _, n := range rows[from:min(from+pageSize, len(rows))] {
		c := *n
		c.Data = maps.Clone(n.Data)
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, companyID, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.CompanyID != companyID || n.UserID != userID {
		return notFound("notification", id)
	}
	if n.ReadAt == nil {
		at := s.now()
		n.ReadAt = &at
	}
	return nil
}
