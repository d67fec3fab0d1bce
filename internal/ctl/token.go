package ctl

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/faultline/internal/authmw"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Secret  string
	Subject string
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the query API",
		Long: `Sign an HS256 operator token with the server's JWT secret.

Examples:
  FAULTLINE_JWT_SECRET=... faultctl token --subject oncall@acme.test --ttl 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := opts.Secret
			if secret == "" {
				secret = os.Getenv(EnvJWTSecret)
			}
			if secret == "" {
				return WrapExitError(ExitCommandError, "no signing secret", errors.New("set --secret or "+EnvJWTSecret))
			}
			tok, err := authmw.IssueToken(secret, opts.Subject, opts.TTL, time.Now())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to sign token", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"token":      tok,
					"subject":    opts.Subject,
					"expires_at": time.Now().Add(opts.TTL).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HS256 signing secret (env "+EnvJWTSecret+")")
	cmd.Flags().StringVar(&opts.Subject, "subject", "operator", "subject recorded in the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 8*time.Hour, "token lifetime")

	return cmd
}
