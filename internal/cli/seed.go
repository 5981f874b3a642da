package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/varejoflow/crm-automation/internal/domain"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by `crm seed` and `crm serve --seed`.
type SeedFile struct {
	Pipelines    []SeedPipeline                  `yaml:"pipelines"`
	StageRules   []domain.StageRuleInput         `yaml:"stage_rules"`
	ScoringRules []domain.ScoringRuleInput       `yaml:"scoring_rules"`
	Members      []domain.CompanyMember          `yaml:"members"`
	Preferences  []domain.NotificationPreference `yaml:"preferences"`
}

// SeedPipeline creates a pipeline and the stage rules of its stages.
// Nested stage rules take the new pipeline's id.
type SeedPipeline struct {
	domain.PipelineInput `yaml:",inline"`
	StageRules           []domain.StageRuleInput `yaml:"stage_rules"`
}

type seedReport struct {
	CompanyID    string `json:"company_id"`
	Pipelines    int    `json:"pipelines"`
	StageRules   int    `json:"stage_rules"`
	ScoringRules int    `json:"scoring_rules"`
	Members      int    `json:"members"`
	Preferences  int    `json:"preferences"`
}

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	CompanyID   string
	File        string
	AutoMigrate bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load pipelines and rules from a YAML file",
		Long: `Create pipelines, stage rules and scoring rules for a company from YAML.

Stage rules are upserted, so re-running a file updates them in place.
Pipelines and scoring rules are created on every run. Members and notification
preferences are written only by backends that own those tables (postgres, memory).

Example:
  crm seed --company 0b6f... --file ./seed.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id (required)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to the YAML seed file (required)")
	cmd.Flags().BoolVar(&opts.AutoMigrate, "auto-migrate", false, "create or update tables first (postgres backend only)")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(ctx context.Context, opts *SeedOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	seed, err := loadSeedFile(opts.File)
	if err != nil {
		return err
	}

	cfg, logger := bootstrap()
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger, appOptions{autoMigrate: opts.AutoMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := applySeed(ctx, a, opts.CompanyID, seed)
	if err != nil {
		return err
	}
	return printResult(out, opts.Format, report, func(w io.Writer) {
		fmt.Fprintf(w, "company %s: %d pipelines, %d stage rules, %d scoring rules, %d members, %d preferences\n",
			report.CompanyID, report.Pipelines, report.StageRules, report.ScoringRules, report.Members, report.Preferences)
	})
}

func loadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// applySeed writes seed through the services so every row is validated.
// It stops at the first failure; rows written before it stay.
func applySeed(ctx context.Context, a *app, companyID string, seed *SeedFile) (*seedReport, error) {
	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "required"}
	}
	report := &seedReport{CompanyID: companyID}

	for i := range seed.Pipelines {
		sp := &seed.Pipelines[i]
		p, err := a.services.Pipelines.Create(ctx, companyID, &sp.PipelineInput)
		if err != nil {
			return report, fmt.Errorf("pipeline %q: %w", sp.Name, err)
		}
		report.Pipelines++

		for j := range sp.StageRules {
			in := sp.StageRules[j]
			in.PipelineID = p.ID
			if _, err := a.services.StageRules.UpsertRule(ctx, companyID, &in); err != nil {
				return report, fmt.Errorf("stage rule %s/%s: %w", sp.Name, in.Stage, err)
			}
			report.StageRules++
		}
	}

	for i := range seed.StageRules {
		in := seed.StageRules[i]
		if _, err := a.services.StageRules.UpsertRule(ctx, companyID, &in); err != nil {
			return report, fmt.Errorf("stage rule %s/%s: %w", in.PipelineID, in.Stage, err)
		}
		report.StageRules++
	}

	for i := range seed.ScoringRules {
		in := seed.ScoringRules[i]
		if _, err := a.services.Scoring.CreateRule(ctx, companyID, &in); err != nil {
			return report, fmt.Errorf("scoring rule %d: %w", i, err)
		}
		report.ScoringRules++
	}

	if len(seed.Members) == 0 && len(seed.Preferences) == 0 {
		return report, nil
	}
	dir, ok := a.members()
	if !ok {
		a.logger.Warn("data backend does not own member tables, skipping members and preferences")
		return report, nil
	}
	for _, m := range seed.Members {
		m.CompanyID = companyID
		if err := dir.AddMember(ctx, m); err != nil {
			return report, fmt.Errorf("member %s: %w", m.UserID, err)
		}
		report.Members++
	}
	for _, p := range seed.Preferences {
		p.CompanyID = companyID
		if err := dir.SetPreference(ctx, p); err != nil {
			return report, fmt.Errorf("preference %s/%s: %w", p.UserID, p.Type, err)
		}
		report.Preferences++
	}
	return report, nil
}
