package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
)

func (s *Store) CreateOpportunity(_ context.Context, companyID string, in *domain.OpportunityInput) (*domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	opp := &domain.Opportunity{
		ID:          s.insertID(),
		CompanyID:   companyID,
		Name:        strings.TrimSpace(in.Name),
		CustomerID:  in.CustomerID,
		PipelineID:  in.PipelineID,
		Stage:       in.Stage,
		Value:       in.Value,
		Probability: in.Probability,
		OwnerID:     in.OwnerID,
		Status:      in.Status,
		Source:      in.Source,
		Tags:        append([]string{}, in.Tags...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.opportunities[opp.ID] = opp
	return cloneOpportunity(opp), nil
}

func (s *Store) GetOpportunity(_ context.Context, companyID, id string) (*domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opp, ok := s.opportunities[id]
	if !ok || opp.CompanyID != companyID {
		return nil, notFound("opportunity", id)
	}
	return cloneOpportunity(opp), nil
}

func (s *Store) ListOpportunities(_ context.Context, companyID string, f domain.OpportunityFilter) ([]domain.Opportunity, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	var rows []*domain.Opportunity
	for _, opp := range s.opportunities {
		if opp.CompanyID != companyID {
			continue
		}
		if f.PipelineID != "" && deref(opp.PipelineID) != f.PipelineID {
			continue
		}
		if f.Stage != "" && deref(opp.Stage) != f.Stage {
			continue
		}
		if f.OwnerID != "" && deref(opp.OwnerID) != f.OwnerID {
			continue
		}
		if f.Status != "" && deref(opp.Status) != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(opp.Name), search) {
			continue
		}
		rows = append(rows, opp)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		c := compareOpportunities(rows[i], rows[j], f.OrderBy)
		if c == 0 {
			c = compareInt64(s.seq[rows[i].ID], s.seq[rows[j].ID])
		}
		if f.Ascending {
			return c < 0
		}
		return c > 0
	})

	from := (f.Page - 1) * f.PageSize
	if from >= len(rows) {
		return []domain.Opportunity{}, nil
	}
	to := min(from+f.PageSize, len(rows))

	out := make([]domain.Opportunity, 0, to-from)
	for _, opp := range rows[from:to] {
		out = append(out, *cloneOpportunity(opp))
	}
	return out, nil
}

func (s *Store) ListAllOpportunities(_ context.Context, companyID string) ([]domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.Opportunity
	for _, opp := range s.opportunities {
		if opp.CompanyID == companyID {
			rows = append(rows, opp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return s.seq[rows[i].ID] < s.seq[rows[j].ID] })

	out := make([]domain.Opportunity, 0, len(rows))
	for _, opp := range rows {
		out = append(out, *cloneOpportunity(opp))
	}
	return out, nil
}

func (s *Store) UpdateOpportunity(_ context.Context, companyID, id string, cols map[string]any) (*domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.opportunities[id]
	if !ok || current.CompanyID != companyID {
		return nil, notFound("opportunity", id)
	}

	next := cloneOpportunity(current)
	if err := applyColumns(next, cols); err != nil {
		return nil, err
	}
	if _, ok := cols["updated_at"]; !ok {
		next.UpdatedAt = s.now()
	}
	s.opportunities[id] = next
	return cloneOpportunity(next), nil
}

func (s *Store) UpdateOpportunityScore(_ context.Context, companyID, id string, score int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp, ok := s.opportunities[id]
	if !ok || opp.CompanyID != companyID {
		return notFound("opportunity", id)
	}
	next := cloneOpportunity(opp)
	next.ScoreTotal = &score
	next.ScoreUpdatedAt = &at
	s.opportunities[id] = next
	return nil
}

func (s *Store) DeleteOpportunity(_ context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp, ok := s.opportunities[id]
	if !ok || opp.CompanyID != companyID {
		return notFound("opportunity", id)
	}
	delete(s.opportunities, id)
	for aid, a := range s.activities {
		if a.OpportunityID == id {
			delete(s.activities, aid)
		}
	}
	return nil
}

// applyColumns writes a column map onto opp. A nil value clears a nullable column.
func applyColumns(opp *domain.Opportunity, cols map[string]any) error {
	for col, v := range cols {
		var err error
		switch col {
		case "name":
			var name *string
			if name, err = asString(col, v); err == nil && name != nil {
				opp.Name = *name
			}
		case "customer_id":
			opp.CustomerID, err = asString(col, v)
		case "pipeline_id":
			opp.PipelineID, err = asString(col, v)
		case "stage":
			opp.Stage, err = asString(col, v)
		case "owner_id":
			opp.OwnerID, err = asString(col, v)
		case "status":
			opp.Status, err = asString(col, v)
		case "source":
			opp.Source, err = asString(col, v)
		case "value":
			opp.Value, err = asFloat(col, v)
		case "probability":
			opp.Probability, err = asFloat(col, v)
		case "tags":
			switch t := v.(type) {
			case nil:
				opp.Tags = nil
			case []string:
				opp.Tags = append([]string{}, t...)
			default:
				err = fmt.Errorf("column %s: unexpected type %T", col, v)
			}
		case "sla_due_at":
			opp.SLADueAt, err = asTime(col, v)
		case "updated_at":
			var at *time.Time
			if at, err = asTime(col, v); err == nil && at != nil {
				opp.UpdatedAt = *at
			}
		default:
			err = fmt.Errorf("unknown opportunity column %q", col)
		}
		if err != nil {
			return &domain.ErrValidation{Field: col, Message: err.Error()}
		}
	}
	return nil
}

func asString(col string, v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case *string:
		if t == nil {
			return nil, nil
		}
		s := *t
		return &s, nil
	}
	return nil, fmt.Errorf("column %s: unexpected type %T", col, v)
}

func asFloat(col string, v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &t, nil
	case int:
		f := float64(t)
		return &f, nil
	}
	return nil, fmt.Errorf("column %s: unexpected type %T", col, v)
}

func asTime(col string, v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		at := *t
		return &at, nil
	}
	return nil, fmt.Errorf("column %s: unexpected type %T", col, v)
}

func compareOpportunities(a, b *domain.Opportunity, column string) int {
	switch column {
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "value":
		return compareFloatPtr(a.Value, b.Value)
	case "probability":
		return compareFloatPtr(a.Probability, b.Probability)
	case "score_total":
		var x, y *float64
		if a.ScoreTotal != nil {
			f := float64(*a.ScoreTotal)
			x = &f
		}
		if b.ScoreTotal != nil {
			f := float64(*b.ScoreTotal)
			y = &f
		}
		return compareFloatPtr(x, y)
	case "sla_due_at":
		return compareTimePtr(a.SLADueAt, b.SLADueAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// nulls sort last in ascending order, as in postgres.
func compareFloatPtr(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneOpportunity(o *domain.Opportunity) *domain.Opportunity {
	c := *o
	if o.Tags != nil {
		c.Tags = append([]string{}, o.Tags...)
	}
	return &c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
