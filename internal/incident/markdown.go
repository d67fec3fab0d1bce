package incident

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// RenderMarkdown renders r as the Markdown attachment delivered with the
// retrospective.
func RenderMarkdown(r *Report) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Incident Retrospective: %s\n\n", r.Summary.Title)
	fmt.Fprintf(&b, "Report `%s` for incident `%s`, generated %s.\n\n", r.ID, r.IncidentID, r.GeneratedAt.UTC().Format(timeLayout))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Category | %s |\n", r.Summary.Category)
	fmt.Fprintf(&b, "| Priority | %s |\n", r.Summary.Priority)
	fmt.Fprintf(&b, "| State | %s |\n", r.Summary.State)
	if r.Summary.Service != "" {
		fmt.Fprintf(&b, "| Service | %s |\n", r.Summary.Service)
	}
	fmt.Fprintf(&b, "| First seen | %s |\n", r.Summary.FirstSeen.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "| Duplicate signals | %d |\n\n", r.Summary.MergedSignals)

	b.WriteString("## Timeline\n\n")
	for _, h := range r.Timeline {
		line := fmt.Sprintf("- %s `%s` %s", h.At.UTC().Format(timeLayout), h.Actor, describeEntry(h))
		if h.Note != "" {
			line += ": " + h.Note
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("## Root Cause\n\n")
	b.WriteString(r.RootCause.Narrative + "\n\n")
	fmt.Fprintf(&b, "- Exception: `%s`\n", r.RootCause.ExceptionKind)
	if r.RootCause.Location != "" {
		fmt.Fprintf(&b, "- Location: `%s`\n", r.RootCause.Location)
	}
	for _, c := range r.RootCause.Causes {
		fmt.Fprintf(&b, "- Wrapped by: `%s`\n", c)
	}
	b.WriteString("\n")

	b.WriteString("## Resolution\n\n")
	b.WriteString(r.Resolution.Outcome + "\n")
	if r.Resolution.Description != "" {
		b.WriteString("\n" + r.Resolution.Description + "\n")
	}
	b.WriteString("\n")

	b.WriteString("## Metrics\n\n")
	fmt.Fprintf(&b, "- Time to resolve: %s\n", formatDuration(r.Metrics.TimeToResolve))
	fmt.Fprintf(&b, "- State transitions: %d\n", r.Metrics.Transitions)
	fmt.Fprintf(&b, "- Duplicate signals: %d\n", r.Metrics.MergedSignals)

	if len(r.FollowUps) > 0 {
		b.WriteString("\n## Follow-ups\n\n")
		for _, f := range r.FollowUps {
			fmt.Fprintf(&b, "- [ ] %s\n", f)
		}
	}

	if len(r.References) > 0 {
		b.WriteString("\n## References\n\n")
		for _, ref := range r.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}

	return []byte(b.String())
}

func describeEntry(h HistoryEntry) string {
	if h.Event == EventSignalMerged {
		return "merged duplicate signal"
	}
	return fmt.Sprintf("%s -> %s", h.From.String(), h.To.String())
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return d.Round(time.Second).String()
}
