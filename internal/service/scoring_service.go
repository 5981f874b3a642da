// Package service provides the business logic layer (use cases) of the CRM
// automation core: opportunity scoring, stage automation, notification
// fan-out and the opportunity orchestration that ties them together.
package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

var scoringTracer = otel.Tracer("service/scoring")

// ScoringService evaluates scoring rules and keeps opportunity scores current.
type ScoringService struct {
	opportunities  port.OpportunityStore
	rules          port.ScoringRuleStore
	maxConcurrency int
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewScoringService creates the scoring service.
// maxConcurrency bounds parallel score writes; <= 0 means unbounded.
func NewScoringService(opportunities port.OpportunityStore, rules port.ScoringRuleStore, maxConcurrency int, metrics *observability.Metrics, logger *zap.Logger) *ScoringService {
	return &ScoringService{
		opportunities:  opportunities,
		rules:          rules,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// ============================================================
// Rule evaluation
// ============================================================

// ComputeScore sums the points of every active rule whose predicate matches opp.
// Rules are not short-circuited; the result does not depend on rule order.
func ComputeScore(opp *domain.Opportunity, rules []domain.ScoringRule) int {
	total := 0
	for i := range rules {
		if rules[i].Active && ruleMatches(opp, &rules[i]) {
			total += rules[i].Points
		}
	}
	return total
}

func ruleMatches(opp *domain.Opportunity, rule *domain.ScoringRule) bool {
	switch rule.Field.Kind() {
	case domain.FieldKindNumeric:
		actual := numericAttr(opp, rule.Field)
		if actual == nil {
			return false
		}
		target, err := strconv.ParseFloat(strings.TrimSpace(rule.Value), 64)
		if err != nil || math.IsNaN(target) {
			return false
		}
		return compareNumber(*actual, rule.Operator, target)

	case domain.FieldKindText:
		actual := textAttr(opp, rule.Field)
		if actual == nil {
			return false
		}
		return compareText(*actual, rule.Operator, rule.Value)

	case domain.FieldKindTextList:
		for _, tag := range opp.Tags {
			if compareText(tag, rule.Operator, rule.Value) {
				return true
			}
		}
		return false
	}
	return false
}

func numericAttr(opp *domain.Opportunity, field domain.ScoringField) *float64 {
	switch field {
	case domain.FieldValue:
		return opp.Value
	case domain.FieldProbability:
		return opp.Probability
	}
	return nil
}

func textAttr(opp *domain.Opportunity, field domain.ScoringField) *string {
	switch field {
	case domain.FieldStage:
		return opp.Stage
	case domain.FieldStatus:
		return opp.Status
	case domain.FieldSource:
		return opp.Source
	}
	return nil
}

func compareNumber(actual float64, op domain.ScoringOperator, target float64) bool {
	switch op {
	case domain.OpEq:
		return actual == target
	case domain.OpNeq:
		return actual != target
	case domain.OpGt:
		return actual > target
	case domain.OpGte:
		return actual >= target
	case domain.OpLt:
		return actual < target
	case domain.OpLte:
		return actual <= target
	}
	return false
}

// compareText is case-insensitive. A Caser is not safe for concurrent use,
// so each comparison folds with its own.
func compareText(actual string, op domain.ScoringOperator, target string) bool {
	fold := cases.Fold()
	a := fold.String(actual)
	b := fold.String(target)
	switch op {
	case domain.OpEq:
		return a == b
	case domain.OpNeq:
		return a != b
	case domain.OpContains:
		return strings.Contains(a, b)
	}
	return false
}

// ============================================================
// Recalculation
// ============================================================

type scoreWrite struct {
	opportunityID string
	score         int
}

// RecalculateCompany rescores every opportunity of the tenant against its active rules.
// A write is issued only when the score changed or was never stamped. All writes are
// attempted; failures are listed in the result and the first one is returned as error.
// Concurrent runs for the same tenant are not coordinated (last write wins).
func (s *ScoringService) RecalculateCompany(ctx context.Context, companyID string) (*domain.RecalcResult, error) {
	ctx, span := scoringTracer.Start(ctx, "ScoringService.RecalculateCompany")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("recalculate_scores", time.Since(start)) }()

	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "required"}
	}

	rules, err := s.rules.ListScoringRules(ctx, companyID, true)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules: %w", err)
	}
	opps, err := s.opportunities.ListAllOpportunities(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load opportunities: %w", err)
	}

	result := &domain.RecalcResult{CompanyID: companyID, Total: len(opps)}

	var pending []scoreWrite
	for i := range opps {
		score := ComputeScore(&opps[i], rules)
		if opps[i].ScoreUpdatedAt != nil && opps[i].ScoreTotal != nil && *opps[i].ScoreTotal == score {
			continue
		}
		pending = append(pending, scoreWrite{opportunityID: opps[i].ID, score: score})
	}

	now := s.now()
	errs := make([]error, len(pending))

	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, w := range pending {
		g.Go(func() error {
			errs[i] = s.opportunities.UpdateOpportunityScore(ctx, companyID, w.opportunityID, w.score, now)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i, w := range pending {
		if errs[i] == nil {
			result.Updated++
			continue
		}
		result.Failures = append(result.Failures, domain.ScoreFailure{
			OpportunityID: w.opportunityID,
			Score:         w.score,
			Error:         errs[i].Error(),
		})
		if firstErr == nil {
			firstErr = errs[i]
		}
	}

	s.metrics.RecordScoring(result.Total, result.Updated, len(result.Failures))
	s.logger.Info("scores recalculated",
		zap.String("company_id", companyID),
		zap.Int("rules", len(rules)),
		zap.Int("total", result.Total),
		zap.Int("updated", result.Updated),
		zap.Int("failed", len(result.Failures)),
	)

	if firstErr != nil {
		return result, fmt.Errorf("recalculate scores: %d of %d writes failed: %w",
			len(result.Failures), len(pending), firstErr)
	}
	return result, nil
}

// ============================================================
// Rule catalog
// ============================================================

func (s *ScoringService) ListRules(ctx context.Context, companyID string) ([]domain.ScoringRule, error) {
	ctx, span := scoringTracer.Start(ctx, "ScoringService.ListRules")
	defer span.End()

	return s.rules.ListScoringRules(ctx, companyID, false)
}

func (s *ScoringService) CreateRule(ctx context.Context, companyID string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	ctx, span := scoringTracer.Start(ctx, "ScoringService.CreateRule")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	rule, err := s.rules.CreateScoringRule(ctx, companyID, in)
	if err != nil {
		s.logger.Error("failed to create scoring rule", zap.String("company_id", companyID), zap.Error(err))
		return nil, err
	}
	return rule, nil
}

func (s *ScoringService) UpdateRule(ctx context.Context, companyID, id string, in *domain.ScoringRuleInput) (*domain.ScoringRule, error) {
	ctx, span := scoringTracer.Start(ctx, "ScoringService.UpdateRule")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.rules.UpdateScoringRule(ctx, companyID, id, in)
}

func (s *ScoringService) DeleteRule(ctx context.Context, companyID, id string) error {
	ctx, span := scoringTracer.Start(ctx, "ScoringService.DeleteRule")
	defer span.End()

	return s.rules.DeleteScoringRule(ctx, companyID, id)
}
