// Package ctl implements faultctl, the operator CLI for faultline.
package ctl

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// Environment variables read when the matching flag is not given.
const (
	EnvServer    = "FAULTLINE_SERVER"
	EnvToken     = "FAULTLINE_TOKEN"
	EnvJWTSecret = "FAULTLINE_JWT_SECRET"
)

const defaultServer = "http://localhost:8080"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server string
	Token  string
	Format string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the faultctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "faultctl",
		Short: "Operate a faultline incident engine",
		Long: `faultctl inspects incidents tracked by a faultline server and
parses log payloads offline with the same parser and rules the server uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !cmd.Flags().Changed("server") {
				if v := os.Getenv(EnvServer); v != "" {
					opts.Server = v
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv(EnvToken); v != "" {
					opts.Token = v
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", defaultServer, "faultline API base URL (env "+EnvServer+")")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token for the query API (env "+EnvToken+")")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.Token)
}
