package ctl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/faultline/internal/incident"
)

const timeLayout = "2006-01-02 15:04:05"

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one incident and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inc, err := rootOpts.client().Incident(cmd.Context(), args[0])
			if err != nil {
				return exitFor("failed to get incident", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), inc)
			}
			printIncident(cmd.OutOrStdout(), inc)
			return nil
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	State    string
	Category string
	Limit    int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		Long: `List incidents, newest first.

Examples:
  faultctl list --state report_pending
  faultctl list --category code_defect --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "only incidents in this state")
	cmd.Flags().StringVar(&opts.Category, "category", "", "only incidents of this category")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of incidents (1..500)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := incident.Filter{Limit: opts.Limit}
	if opts.State != "" {
		s, err := incident.ParseState(opts.State)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --state", err)
		}
		f.State = s
	}
	if opts.Category != "" {
		c, err := incident.ParseCategory(opts.Category)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --category", err)
		}
		f.Category = c
	}

	incs, err := opts.client().Incidents(cmd.Context(), f)
	if err != nil {
		return exitFor("failed to list incidents", err)
	}
	if opts.Format == "json" {
		if incs == nil {
			incs = []*incident.Incident{}
		}
		return writeJSON(cmd.OutOrStdout(), incs)
	}
	if len(incs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No incidents found.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tCATEGORY\tPRIORITY\tKIND\tDUPES\tUPDATED")
	for _, inc := range incs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			inc.ID, inc.State, inc.Category, inc.Priority, kindOf(inc), inc.MergedSignals, inc.UpdatedAt.UTC().Format(timeLayout))
	}
	return tw.Flush()
}

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Rerun    bool
	Markdown bool
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Preview or re-run an incident's retrospective",
		Long: `Preview the retrospective of an incident, or with --rerun retry report
generation for an incident stuck in report_pending.

Examples:
  faultctl report 01JN4Z8X3K --markdown > retro.md
  faultctl report 01JN4Z8X3K --rerun`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Rerun, "rerun", false, "retry report generation and close the incident")
	cmd.Flags().BoolVar(&opts.Markdown, "markdown", false, "print the Markdown attachment instead of a summary")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command, id string) error {
	c := opts.client()
	out := cmd.OutOrStdout()

	if opts.Rerun {
		inc, err := c.RetryReport(cmd.Context(), id)
		if err != nil {
			return exitFor("failed to re-run report", err)
		}
		if opts.Format == "json" {
			return writeJSON(out, inc)
		}
		fmt.Fprintf(out, "Incident %s is now %s.\n", inc.ID, inc.State)
		if inc.Report != nil {
			fmt.Fprintf(out, "Report: %s\n", inc.Report.ID)
		}
		return nil
	}

	if opts.Markdown {
		md, err := c.ReportMarkdown(cmd.Context(), id)
		if err != nil {
			return exitFor("failed to get report", err)
		}
		_, err = out.Write(md)
		return err
	}

	r, err := c.Report(cmd.Context(), id)
	if err != nil {
		return exitFor("failed to get report", err)
	}
	if opts.Format == "json" {
		return writeJSON(out, r)
	}
	fmt.Fprintf(out, "%s  %s\n", r.ID, r.Summary.Title)
	fmt.Fprintf(out, "  %s / %s, %s\n", r.Summary.Category, r.Summary.Priority, r.Summary.State)
	fmt.Fprintf(out, "  Root cause: %s\n", r.RootCause.Narrative)
	fmt.Fprintf(out, "  Resolution: %s\n", r.Resolution.Outcome)
	if r.Metrics.TimeToResolve > 0 {
		fmt.Fprintf(out, "  Time to resolve: %s\n", r.Metrics.TimeToResolve.Round(time.Second))
	}
	return nil
}

func kindOf(inc *incident.Incident) string {
	if inc.Signal == nil {
		return "-"
	}
	return inc.Signal.ShortKind()
}

func printIncident(w io.Writer, inc *incident.Incident) {
	fmt.Fprintf(w, "Incident %s\n", inc.ID)
	fmt.Fprintf(w, "  State:      %s\n", inc.State)
	fmt.Fprintf(w, "  Category:   %s (%s)\n", inc.Category, inc.Priority)
	if inc.Rule != "" {
		fmt.Fprintf(w, "  Rule:       %s\n", inc.Rule)
	}
	if inc.Signal != nil {
		fmt.Fprintf(w, "  Kind:       %s\n", inc.Signal.Kind)
		if inc.Signal.HasPrimaryFrame() {
			fmt.Fprintf(w, "  Location:   %s\n", inc.Signal.Primary)
		}
	}
	fmt.Fprintf(w, "  Duplicates: %d\n", inc.MergedSignals)
	if inc.Resolution != nil {
		fmt.Fprintf(w, "  Resolution: %s %s\n", inc.Resolution.Kind, inc.Resolution.Reference)
	}
	if inc.FailureReason != "" {
		fmt.Fprintf(w, "  Failure:    %s\n", inc.FailureReason)
	}
	fmt.Fprintln(w, "  History:")
	for _, h := range inc.History {
		line := fmt.Sprintf("    %s  %-12s %s -> %s", h.At.UTC().Format(timeLayout), h.Actor, h.From.String(), h.To.String())
		if h.Note != "" {
			line += "  " + h.Note
		}
		fmt.Fprintln(w, line)
	}
}
