package service

import (
	"context"
	"strings"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var pipelineTracer = otel.Tracer("service/pipeline")

// PipelineService manages the pipeline catalog. Opportunity stages are not
// checked against it.
type PipelineService struct {
	store  port.PipelineStore
	logger *zap.Logger
}

func NewPipelineService(store port.PipelineStore, logger *zap.Logger) *PipelineService {
	return &PipelineService{store: store, logger: logger}
}

func (s *PipelineService) List(ctx context.Context, companyID string) ([]domain.Pipeline, error) {
	ctx, span := pipelineTracer.Start(ctx, "PipelineService.List")
	defer span.End()

	return s.store.ListPipelines(ctx, companyID)
}

func (s *PipelineService) Get(ctx context.Context, companyID, id string) (*domain.Pipeline, error) {
	ctx, span := pipelineTracer.Start(ctx, "PipelineService.Get")
	defer span.End()

	return s.store.GetPipeline(ctx, companyID, id)
}

func (s *PipelineService) Create(ctx context.Context, companyID string, in *domain.PipelineInput) (*domain.Pipeline, error) {
	ctx, span := pipelineTracer.Start(ctx, "PipelineService.Create")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	clean := &domain.PipelineInput{Name: strings.TrimSpace(in.Name)}
	for _, st := range in.Stages {
		clean.Stages = append(clean.Stages, strings.TrimSpace(st))
	}

	p, err := s.store.CreatePipeline(ctx, companyID, clean)
	if err != nil {
		s.logger.Error("failed to create pipeline", zap.String("company_id", companyID), zap.Error(err))
		return nil, err
	}
	return p, nil
}
