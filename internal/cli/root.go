// Package cli implements the crm command line: the HTTP server and the
// operational commands that run against the configured data backend.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/varejoflow/crm-automation/internal/config"
	"github.com/varejoflow/crm-automation/internal/infra/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the crm CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crm",
		Short: "CRM automation core",
		Long:  "Opportunity scoring, stage automation and notification fan-out for the CRM.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return config.LoadDotEnv(opts.EnvFile)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRecalcCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// bootstrap loads configuration and builds the logger.
func bootstrap() (*config.Config, *zap.Logger) {
	cfg := config.Load()
	return cfg, observability.NewLogger(cfg.LogLevel)
}

// printResult writes v as indented JSON, or through text in text mode.
func printResult(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
