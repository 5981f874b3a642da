package memstore

import (
	"context"
	"sort"

	"github.com/varejoflow/crm-automation/internal/domain"
)

// ============================================================
// Scoring rules
// ============================================================

func (s *Store) ListScoringRules(_ context.Context, companyID string, activeOnly bool) ([]domain.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.ScoringRule{}
	for _, r := range s.scoringRules {
		if r.CompanyID != companyID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (s *Store) CreateScoringRule(_ context.Context, companyID string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := &domain.ScoringRule{
		ID:        s.insertID(),
		CompanyID: companyID,
		Field:     in.Field,
		Operator:  in.Operator,
		Value:     in.Value,
		Points:    in.Points,
		Active:    in.IsActive(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.scoringRules[r.ID] = r
	c := *r
	return &c, nil
}

func (s *Store) UpdateScoringRule(_ context.Context, companyID, id string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.scoringRules[id]
	if !ok || cur.CompanyID != companyID {
		return nil, notFound("scoring_rule", id)
	}
	next := *cur
	next.Field = in.Field
	next.Operator = in.Operator
	next.Value = in.Value
	next.Points = in.Points
	next.Active = in.IsActive()
	next.UpdatedAt = s.now()
	s.scoringRules[id] = &next
	c := next
	return &c, nil
}

func (s *Store) DeleteScoringRule(_ context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.scoringRules[id]
	if !ok || cur.CompanyID != companyID {
		return notFound("scoring_rule", id)
	}
	delete(s.scoringRules, id)
	return nil
}

// ============================================================
// Stage rules
// ============================================================

func (s *Store) FindStageRule(_ context.Context, companyID, pipelineID, stage string) (*domain.StageRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r := s.findStageRuleLocked(companyID, pipelineID, stage); r != nil {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (s *Store) findStageRuleLocked(companyID, pipelineID, stage string) *domain.StageRule {
	for _, r := range s.stageRules {
		if r.CompanyID == companyID && r.PipelineID == pipelineID && r.Stage == stage {
			return r
		}
	}
	return nil
}

func (s *Store) ListStageRules(_ context.Context, companyID, pipelineID string) ([]domain.StageRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.StageRule{}
	for _, r := range s.stageRules {
		if r.CompanyID != companyID || (pipelineID != "" && r.PipelineID != pipelineID) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

// UpsertStageRule replaces the rule with the same (company, pipeline, stage), keeping its id.
func (s *Store) UpsertStageRule(_ context.Context, companyID string, in *domain.StageRuleInput) (*domain.StageRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.findStageRuleLocked(companyID, in.PipelineID, in.Stage)
	if r == nil {
		r = &domain.StageRule{
			ID:         s.insertID(),
			CompanyID:  companyID,
			PipelineID: in.PipelineID,
			Stage:      in.Stage,
			CreatedAt:  now,
		}
	} else {
		cp := *r
		r = &cp
	}
	r.SLADays = in.SLADays
	r.AutoAssignOwnerID = in.AutoAssignOwnerID
	r.ReminderDaysBefore = in.ReminderDaysBefore
	r.UpdatedAt = now
	s.stageRules[r.ID] = r

	c := *r
	return &c, nil
}

func (s *Store) DeleteStageRule(_ context.Context, companyID, id string) (*domain.StageRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.stageRules[id]
	if !ok || r.CompanyID != companyID {
		return nil, notFound("stage_rule", id)
	}
	delete(s.stageRules, id)
	return r, nil
}

// ============================================================
// Pipelines
// ============================================================

func (s *Store) ListPipelines(_ context.Context, companyID string) ([]domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Pipeline{}
	for _, p := range s.pipelines {
		if p.CompanyID == companyID {
			out = append(out, clonePipeline(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (s *Store) GetPipeline(_ context.Context, companyID, id string) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok || p.CompanyID != companyID {
		return nil, notFound("pipeline", id)
	}
	c := clonePipeline(p)
	return &c, nil
}

func (s *Store) CreatePipeline(_ context.Context, companyID string, in *domain.PipelineInput) (*domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &domain.Pipeline{
		ID:        s.insertID(),
		CompanyID: companyID,
		Name:      in.Name,
		Stages:    append([]string{}, in.Stages...),
		CreatedAt: s.now(),
	}
	s.pipelines[p.ID] = p
	c := clonePipeline(p)
	return &c, nil
}

func clonePipeline(p *domain.Pipeline) domain.Pipeline {
	c := *p
	c.Stages = append([]string{}, p.Stages...)
	return c
}
