package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/varejoflow/crm-automation/internal/domain"

	"github.com/spf13/cobra"
)

// RecalcOptions holds flags for the recalc-scores command.
type RecalcOptions struct {
	*RootOptions
	CompanyID string
}

// NewRecalcCommand creates the recalc-scores command.
func NewRecalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recalc-scores",
		Short: "Recalculate opportunity scores for a company",
		Long: `Rescore every opportunity of a company against its active scoring rules.

Only opportunities whose score changed are written. Failed writes are listed
and make the command exit non-zero.

Example:
  crm recalc-scores --company 0b6f...
  crm recalc-scores --company 0b6f... --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalc(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id (required)")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

func runRecalc(ctx context.Context, opts *RecalcOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger := bootstrap()
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	result, recalcErr := a.services.Scoring.RecalculateCompany(ctx, opts.CompanyID)
	if result == nil {
		return recalcErr
	}

	if err := printResult(out, opts.Format, result, func(w io.Writer) { printRecalcText(w, result) }); err != nil {
		return err
	}
	return recalcErr
}

func printRecalcText(w io.Writer, r *domain.RecalcResult) {
	fmt.Fprintf(w, "company %s: %d opportunities, %d scores updated, %d failed\n",
		r.CompanyID, r.Total, r.Updated, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s (score %d): %s\n", f.OpportunityID, f.Score, f.Error)
	}
}
