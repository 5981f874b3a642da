package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/varejoflow/crm-automation/internal/config"
	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/handler"
	"github.com/varejoflow/crm-automation/internal/infra/cache"
	"github.com/varejoflow/crm-automation/internal/infra/email"
	"github.com/varejoflow/crm-automation/internal/infra/memstore"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/infra/pgstore"
	"github.com/varejoflow/crm-automation/internal/infra/resilience"
	"github.com/varejoflow/crm-automation/internal/infra/supabase"
	"github.com/varejoflow/crm-automation/internal/port"
	"github.com/varejoflow/crm-automation/internal/service"

	"go.uber.org/zap"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	store    port.Store
	pinger   handler.Pinger
	services handler.Services
	closers  []func() error
}

type appOptions struct {
	autoMigrate bool
}

// newApp builds the store selected by DATA_BACKEND and the services on top of it.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	switch cfg.DataBackend {
	case config.BackendSupabase:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		client := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			a.metrics,
			logger,
		)
		a.store, a.pinger = client, client

	case config.BackendPostgres:
		logger.Info("using Postgres as data backend")
		pg, err := pgstore.Open(cfg.DatabaseURL, a.metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if opts.autoMigrate {
			if err := pg.AutoMigrate(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("postgres schema migrated")
		}
		a.store, a.pinger = pg, pg

	case config.BackendMemory:
		logger.Warn("using in-memory data backend, data is lost on exit")
		mem := memstore.New()
		a.store, a.pinger = mem, mem
	}

	var sender port.EmailSender
	if cfg.EmailDispatchURL != "" {
		sender = email.NewClient(httpClient, cfg.EmailDispatchURL, cfg.EmailAPIKey, resilience.NewCircuitBreaker("email", logger))
	} else {
		logger.Warn("EMAIL_DISPATCH_URL not set, email notifications disabled")
	}

	stageRuleCache := cache.New[*domain.StageRule](cfg.StageRuleCacheTTL)
	a.closers = append(a.closers, func() error { stageRuleCache.Close(); return nil })

	notifier := service.NewNotificationService(a.store, sender, cfg.MaxConcurrency, a.metrics, logger)
	stageRules := service.NewStageRuleService(a.store, a.store, a.store, notifier, stageRuleCache, a.metrics, logger)

	a.services = handler.Services{
		Opportunities: service.NewOpportunityService(a.store, a.store, stageRules, notifier, a.metrics, logger),
		Pipelines:     service.NewPipelineService(a.store, logger),
		Scoring:       service.NewScoringService(a.store, a.store, cfg.MaxConcurrency, a.metrics, logger),
		StageRules:    stageRules,
		Notifications: notifier,
		Tokens:        service.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, logger),
		Store:         a.pinger,
	}
	return a, nil
}

// members returns the member directory when the backend owns the member tables.
func (a *app) members() (port.MemberDirectory, bool) {
	dir, ok := a.store.(port.MemberDirectory)
	return dir, ok
}

// Close releases the store and background workers.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", zap.Error(err))
		}
	}
	a.closers = nil
}
