package cli

import (
	"fmt"
	"io"

	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/spf13/cobra"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	CompanyID string
	UserID    string
	Role      string
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token",
		Long: `Sign an access token for a user of a company with JWT_SECRET.

Intended for local development and smoke tests; production tokens come from
the platform's auth service.

Example:
  crm token --company 0b6f... --user 7c1a... --role manager`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id (required)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "member role embedded in the token")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

type tokenOutput struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func runToken(opts *TokenOptions, out io.Writer) error {
	cfg, logger := bootstrap()
	defer logger.Sync()

	tokens := service.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, logger)
	token, err := tokens.IssueAccessToken(opts.UserID, opts.CompanyID, opts.Role)
	if err != nil {
		return err
	}

	result := tokenOutput{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(cfg.JWTAccessTTL.Seconds()),
	}
	return printResult(out, opts.Format, result, func(w io.Writer) { fmt.Fprintln(w, token) })
}
