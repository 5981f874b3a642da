// Package memstore is an in-process implementation of port.Store.
// It backs DATA_BACKEND=memory and the service and handler tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/port"

	"github.com/google/uuid"
)

var (
	_ port.Store           = (*Store)(nil)
	_ port.MemberDirectory = (*Store)(nil)
)

type prefKey struct {
	companyID string
	userID    string
	nt        domain.NotificationType
}

// Store keeps every table in mutex-guarded maps. Values are copied on the way
// in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	opportunities map[string]*domain.Opportunity
	scoringRules  map[string]*domain.ScoringRule
	stageRules    map[string]*domain.StageRule
	pipelines     map[string]*domain.Pipeline
	activities    map[string]*domain.Activity
	notifications map[string]*domain.Notification
	members       map[string][]domain.CompanyMember
	prefs         map[prefKey]domain.NotificationPreference

	// seq orders rows inserted within the same clock tick.
	seq   map[string]int64
	next  int64
	now   func() time.Time
	newID func() string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		opportunities: make(map[string]*domain.Opportunity),
		scoringRules:  make(map[string]*domain.ScoringRule),
		stageRules:    make(map[string]*domain.StageRule),
		pipelines:     make(map[string]*domain.Pipeline),
		activities:    make(map[string]*domain.Activity),
		notifications: make(map[string]*domain.Notification),
		members:       make(map[string][]domain.CompanyMember),
		prefs:         make(map[prefKey]domain.NotificationPreference),
		seq:           make(map[string]int64),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// WithClock replaces the store clock. Used by tests that assert timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddMember registers a user in a company, replacing a previous entry for the same user.
func (s *Store) AddMember(_ context.Context, m domain.CompanyMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.members[m.CompanyID]
	for i := range list {
		if list[i].UserID == m.UserID {
			list[i] = m
			return nil
		}
	}
	s.members[m.CompanyID] = append(list, m)
	return nil
}

// SetPreference stores a member's preference for one notification type.
func (s *Store) SetPreference(_ context.Context, p domain.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefKey{p.CompanyID, p.UserID, p.Type}] = p
	return nil
}

// insertID allocates an id and records its insertion order. Caller holds mu.
func (s *Store) insertID() string {
	id := s.newID()
	s.next++
	s.seq[id] = s.next
	return id
}

func notFound(resource, id string) error {
	return &domain.ErrNotFound{Resource: resource, ID: id}
}

// Ping always succeeds. Used by /readyz.
func (s *Store) Ping(_ context.Context) error {
	return nil
}
