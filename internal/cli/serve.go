package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/varejoflow/crm-automation/internal/handler"
	"github.com/varejoflow/crm-automation/internal/infra/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	AutoMigrate bool
	SeedFile    string
	SeedCompany string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the CRM automation HTTP API on PORT.

The data backend is selected with DATA_BACKEND (supabase, postgres or memory).

Example:
  crm serve
  DATA_BACKEND=postgres crm serve --auto-migrate
  DATA_BACKEND=memory crm serve --seed ./seed.yaml --company 0b6f...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.AutoMigrate, "auto-migrate", false, "create or update tables (postgres backend only)")
	cmd.Flags().StringVar(&opts.SeedFile, "seed", "", "YAML seed file applied before serving")
	cmd.Flags().StringVar(&opts.SeedCompany, "company", "", "company the seed file is applied to")
	cmd.MarkFlagsRequiredTogether("seed", "company")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger := bootstrap()
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Duration("stage_rule_cache_ttl", cfg.StageRuleCacheTTL),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	a, err := newApp(parent, cfg, logger, appOptions{autoMigrate: opts.AutoMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.SeedFile != "" {
		seed, err := loadSeedFile(opts.SeedFile)
		if err != nil {
			return err
		}
		report, err := applySeed(parent, a, opts.SeedCompany, seed)
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("seed applied",
			zap.String("company_id", opts.SeedCompany),
			zap.Int("pipelines", report.Pipelines),
			zap.Int("stage_rules", report.StageRules),
			zap.Int("scoring_rules", report.ScoringRules),
			zap.Int("members", report.Members),
		)
	}

	router := handler.NewRouter(a.services, cfg.CORSAllowedOrigins, a.metrics, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
