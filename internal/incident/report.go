package incident

import (
	"fmt"
	"time"
)

// Report is the retrospective for one incident. Once attached to a Closed
// incident it is never modified.
type Report struct {
	ID          string           `json:"id"`
	IncidentID  string           `json:"incident_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     Summary          `json:"summary"`
	Timeline    Timeline         `json:"timeline"`
	RootCause   RootCause        `json:"root_cause"`
	Resolution  ResolutionDetail `json:"resolution"`
	FollowUps   []string         `json:"follow_ups,omitempty"`
	Metrics     ReportMetrics    `json:"metrics"`
	References  []string         `json:"references,omitempty"`
}

// Summary is the executive overview.
type Summary struct {
	Title         string    `json:"title"`
	Category      Category  `json:"category"`
	Priority      Priority  `json:"priority"`
	State         State     `json:"state"`
	Service       string    `json:"service,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	MergedSignals int       `json:"merged_signals"`
}

// RootCause describes the authoritative exception and where it surfaced.
type RootCause struct {
	ExceptionKind string   `json:"exception_kind"`
	Message       string   `json:"message,omitempty"`
	Location      string   `json:"location,omitempty"`
	Causes        []string `json:"causes,omitempty"`
	Narrative     string   `json:"narrative"`
}

// ResolutionDetail describes what was done about the incident.
type ResolutionDetail struct {
	Kind        ResolutionKind `json:"kind,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Description string         `json:"description,omitempty"`
	Outcome     string         `json:"outcome"`
}

// ReportMetrics are the measurable facts of the incident.
type ReportMetrics struct {
	TimeToResolve time.Duration `json:"time_to_resolve"`
	Transitions   int           `json:"transitions"`
	MergedSignals int           `json:"merged_signals"`
}

// Timeline is the incident history copied verbatim into the report.
type Timeline []HistoryEntry

// History returns the entries the timeline was built from.
func (t Timeline) History() []HistoryEntry {
	return append([]HistoryEntry(nil), t...)
}

// BuildReport assembles the retrospective for inc as of at. It reads inc
// and never modifies it. Only incidents with a resolution or a failure can
// be reported on.
func BuildReport(inc *Incident, at time.Time) (*Report, error) {
	if inc == nil {
		return nil, &ReportBuildError{Reason: "nil incident"}
	}
	if inc.Signal == nil {
		return nil, &ReportBuildError{IncidentID: inc.ID, Reason: "incident has no signal"}
	}
	if inc.Resolution == nil && inc.State != StateFailed {
		return nil, &ReportBuildError{IncidentID: inc.ID, Reason: fmt.Sprintf("nothing to report in state %s", inc.State)}
	}
	if len(inc.History) == 0 {
		return nil, &ReportBuildError{IncidentID: inc.ID, Reason: "incident has no history"}
	}

	sig := inc.Signal
	r := &Report{
		ID:          "RETRO-" + inc.ID,
		IncidentID:  inc.ID,
		GeneratedAt: at.UTC(),
		Summary: Summary{
			Title:         title(inc),
			Category:      inc.Category,
			Priority:      inc.Priority,
			State:         inc.State,
			Service:       sig.Service,
			FirstSeen:     inc.CreatedAt,
			MergedSignals: inc.MergedSignals,
		},
		Timeline: Timeline(append([]HistoryEntry(nil), inc.History...)),
		RootCause: RootCause{
			ExceptionKind: sig.Kind,
			Message:       sig.Message,
			Causes:        append([]string(nil), sig.Causes...),
		},
		Metrics: ReportMetrics{
			Transitions:   inc.Transitions(),
			MergedSignals: inc.MergedSignals,
		},
	}
	if sig.Primary != nil {
		r.RootCause.Location = sig.Primary.String()
	}
	r.RootCause.Narrative = rootCauseNarrative(inc)

	if res := inc.Resolution; res != nil {
		r.Resolution = ResolutionDetail{
			Kind:        res.Kind,
			Reference:   res.Reference,
			Description: res.Description,
			Outcome:     resolutionOutcome(res),
		}
		r.Metrics.TimeToResolve = res.At.Sub(inc.CreatedAt)
		if res.Reference != "" {
			r.References = append(r.References, res.Reference)
		}
	} else {
		r.Resolution = ResolutionDetail{Outcome: "Resolution failed: " + inc.FailureReason}
	}

	r.FollowUps = followUps(inc)
	return r, nil
}

func title(inc *Incident) string {
	kind := inc.Signal.ShortKind()
	if f := inc.Signal.Primary; f != nil {
		return fmt.Sprintf("%s in %s.%s", kind, f.Class, f.Method)
	}
	if inc.Signal.Service != "" {
		return fmt.Sprintf("%s in %s", kind, inc.Signal.Service)
	}
	return kind
}

func rootCauseNarrative(inc *Incident) string {
	sig := inc.Signal
	n := fmt.Sprintf("A %s was raised", sig.Kind)
	if sig.Primary != nil {
		n += fmt.Sprintf(" at %s", sig.Primary.String())
	}
	if sig.Message != "" {
		n += fmt.Sprintf(" with message %q", sig.Message)
	}
	n += "."
	switch inc.Category {
	case CategoryCodeDefect:
		n += " The fault originates in application code and was routed for a code fix."
	case CategoryConfigurationDefect:
		n += " The fault stems from missing or invalid configuration and was routed to documentation."
	default:
		n += " No rule identified the cause; the incident needs manual investigation."
	}
	if len(sig.Causes) > 0 {
		n += fmt.Sprintf(" It surfaced through %d wrapping exception(s).", len(sig.Causes))
	}
	return n
}

func resolutionOutcome(res *ResolutionRecord) string {
	switch res.Kind {
	case ResolutionCodePR:
		return "Pull request opened: " + res.Reference
	case ResolutionConfigDoc:
		return "Configuration documentation linked: " + res.Reference
	default:
		return "Escalated for manual triage"
	}
}

func followUps(inc *Incident) []string {
	var out []string
	switch {
	case inc.State == StateFailed:
		out = append(out,
			"Investigate the failed remediation: "+inc.FailureReason,
			"Apply a fix manually and confirm the error no longer occurs",
		)
	case inc.Category == CategoryUnclassified:
		out = append(out,
			"Triage the incident manually and determine the root cause",
			"Add a classification rule if this fault recurs",
		)
	case inc.Category == CategoryCodeDefect:
		out = append(out, "Review and merge the proposed pull request")
	case inc.Category == CategoryConfigurationDefect:
		out = append(out, "Apply the documented configuration change and redeploy")
	}
	if inc.MergedSignals > 0 {
		out = append(out, fmt.Sprintf("Check impact: %d duplicate signal(s) were received", inc.MergedSignals))
	}
	return out
}
