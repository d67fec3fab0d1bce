package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/faultline/internal/classify"
	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	AppNamespaces []string
	RulesFile     string
}

// ParseResult is what the server would record for a payload.
type ParseResult struct {
	Signal         *signal.Signal    `json:"signal"`
	CorrelationKey string            `json:"correlation_key"`
	Category       incident.Category `json:"category"`
	Priority       incident.Priority `json:"priority"`
	Rule           string            `json:"rule"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse and classify a log payload offline",
		Long: `Parse a raw log payload and classify it without contacting a server.
Reads the file argument, or stdin when no file (or "-") is given.

Examples:
  faultctl parse crash.log
  kubectl logs orders-7f9 | faultctl parse --app-namespace com.acme
  faultctl parse crash.log --rules rules.yaml --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, cmd, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.AppNamespaces, "app-namespace", nil, "package prefix counted as application code (repeatable)")
	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "YAML file with extra classification rules")

	return cmd
}

func runParse(opts *ParseOptions, cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	var extra []classify.Rule
	if opts.RulesFile != "" {
		extra, err = classify.LoadRules(opts.RulesFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load rules", err)
		}
	}

	sig, err := signal.NewParser(opts.AppNamespaces...).Parse(raw)
	if err != nil {
		return WrapExitError(ExitFailure, "not a log payload", err)
	}
	c := classify.New(extra...)
	category, priority := c.Classify(sig)
	res := ParseResult{
		Signal:         sig,
		CorrelationKey: incident.CorrelationKey(sig),
		Category:       category,
		Priority:       priority,
		Rule:           c.Explain(sig),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printParse(cmd.OutOrStdout(), res)
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}

func printParse(w io.Writer, r ParseResult) {
	s := r.Signal
	fmt.Fprintf(w, "Format:    %s\n", s.Format)
	fmt.Fprintf(w, "Kind:      %s\n", s.Kind)
	if s.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", s.Message)
	}
	if s.HasPrimaryFrame() {
		fmt.Fprintf(w, "Location:  %s\n", s.Primary)
	}
	if len(s.Causes) > 0 {
		fmt.Fprintf(w, "Causes:    %s\n", strings.Join(s.Causes, " <- "))
	}
	if s.Service != "" {
		fmt.Fprintf(w, "Service:   %s\n", s.Service)
	}
	if !s.Timestamp.IsZero() {
		fmt.Fprintf(w, "Timestamp: %s\n", s.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(w, "Category:  %s\n", r.Category)
	fmt.Fprintf(w, "Priority:  %s\n", r.Priority)
	fmt.Fprintf(w, "Rule:      %s\n", r.Rule)
	fmt.Fprintf(w, "Key:       %s\n", r.CorrelationKey)
}
