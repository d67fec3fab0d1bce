package incident

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/faultline/internal/signal"
)

// Category is the remediation strategy chosen for an incident.
type Category string

const (
	// CategoryCodeDefect is fixed by a source change.
	CategoryCodeDefect Category = "code_defect"

	// CategoryConfigurationDefect is fixed by correcting configuration.
	CategoryConfigurationDefect Category = "configuration_defect"

	// CategoryUnclassified needs a human to decide.
	CategoryUnclassified Category = "unclassified"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryCodeDefect, CategoryConfigurationDefect, CategoryUnclassified:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Priority orders incidents by urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Outranks reports whether p is more urgent than other.
func (p Priority) Outranks(other Priority) bool {
	return p.rank() > other.rank()
}

// Actors recorded in history entries.
const (
	ActorParser       = "parser"
	ActorClassifier   = "classifier"
	ActorOrchestrator = "orchestrator"
	ActorDispatcher   = "dispatcher"
	ActorReporter     = "reporter"
	ActorOperator     = "operator"
)

// EventKind distinguishes state transitions from other audit entries.
type EventKind string

const (
	EventTransition   EventKind = "transition"
	EventSignalMerged EventKind = "signal_merged"
)

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	At    time.Time `json:"at"`
	From  State     `json:"from"`
	To    State     `json:"to"`
	Actor string    `json:"actor"`
	Event EventKind `json:"event"`
	Note  string    `json:"note,omitempty"`
}

// ResolutionKind tags a ResolutionRecord.
type ResolutionKind string

const (
	ResolutionCodePR       ResolutionKind = "code_pr"
	ResolutionConfigDoc    ResolutionKind = "config_doc"
	ResolutionManualTriage ResolutionKind = "manual_triage"
)

// ResolutionRecord is the outcome of dispatch. Reference is a PR URL for
// code_pr and a documentation URL for config_doc.
type ResolutionRecord struct {
	Kind        ResolutionKind `json:"kind"`
	Reference   string         `json:"reference,omitempty"`
	Description string         `json:"description,omitempty"`
	At          time.Time      `json:"at"`
}

// Incident is the durable aggregate tracked through the lifecycle. The Store
// owns it; everything else works on copies.
type Incident struct {
	ID             string            `json:"id"`
	CorrelationKey string            `json:"correlation_key"`
	Category       Category          `json:"category"`
	Priority       Priority          `json:"priority"`
	Rule           string            `json:"rule,omitempty"`
	Signal         *signal.Signal    `json:"signal"`
	MergedSignals  int               `json:"merged_signals"`
	State          State             `json:"state"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Resolution     *ResolutionRecord `json:"resolution,omitempty"`
	Report         *Report           `json:"report,omitempty"`
	History        []HistoryEntry    `json:"history"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Version        int               `json:"version"`
}

// Clone returns a copy that shares nothing mutable with inc. Signal and
// Report are treated as immutable and shared.
func (inc *Incident) Clone() *Incident {
	if inc == nil {
		return nil
	}
	cp := *inc
	cp.History = append([]HistoryEntry(nil), inc.History...)
	if inc.Resolution != nil {
		r := *inc.Resolution
		cp.Resolution = &r
	}
	return &cp
}

// Transition moves the incident to state to and appends the matching
// history entry.
func (inc *Incident) Transition(to State, actor, note string, at time.Time) error {
	if !inc.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.State.String(), to)
	}
	inc.History = append(inc.History, HistoryEntry{
		At:    at,
		From:  inc.State,
		To:    to,
		Actor: actor,
		Event: EventTransition,
		Note:  note,
	})
	inc.State = to
	inc.UpdatedAt = at
	return nil
}

// Fail moves the incident to Failed with reason. A resolution recorded
// earlier is dropped since Failed incidents carry none; its reference is
// kept in the history note.
func (inc *Incident) Fail(reason, actor string, at time.Time) error {
	note := reason
	if inc.Resolution != nil && inc.Resolution.Reference != "" {
		note = fmt.Sprintf("%s (discarded resolution %s)", reason, inc.Resolution.Reference)
	}
	if err := inc.Transition(StateFailed, actor, note, at); err != nil {
		return err
	}
	inc.FailureReason = reason
	inc.Resolution = nil
	return nil
}

// MergeSignal records a duplicate signal without changing state.
func (inc *Incident) MergeSignal(sig *signal.Signal, at time.Time) {
	inc.MergedSignals++
	note := ""
	if sig != nil && sig.RawTimestamp != "" {
		note = "signal at " + sig.RawTimestamp
	}
	inc.History = append(inc.History, HistoryEntry{
		At:    at,
		From:  inc.State,
		To:    inc.State,
		Actor: ActorParser,
		Event: EventSignalMerged,
		Note:  note,
	})
	inc.UpdatedAt = at
}

// Reclassify changes category and priority. Only legal before routing.
func (inc *Incident) Reclassify(c Category, p Priority, rule string) error {
	if inc.State != StateDetected {
		return fmt.Errorf("%w: reclassify in state %s", ErrInvalidTransition, inc.State)
	}
	inc.Category, inc.Priority, inc.Rule = c, p, rule
	return nil
}

// Transitions counts the transition entries in History.
func (inc *Incident) Transitions() int {
	n := 0
	for _, h := range inc.History {
		if h.Event == EventTransition {
			n++
		}
	}
	return n
}

// Validate checks the invariants every committed incident must satisfy.
// Stores call it before persisting a mutation.
func (inc *Incident) Validate() error {
	if inc.ID == "" {
		return fmt.Errorf("incident has no id")
	}
	if inc.Signal == nil {
		return fmt.Errorf("incident %s has no signal", inc.ID)
	}
	var cur State
	for i, h := range inc.History {
		if h.From != cur {
			return fmt.Errorf("incident %s: history entry %d starts from %q, state was %q", inc.ID, i, h.From, cur)
		}
		switch h.Event {
		case EventTransition:
			if !h.From.CanTransition(h.To) {
				return fmt.Errorf("incident %s: history entry %d: %w: %s -> %s", inc.ID, i, ErrInvalidTransition, h.From.String(), h.To)
			}
			cur = h.To
		case EventSignalMerged:
			if h.To != h.From {
				return fmt.Errorf("incident %s: merge entry %d changes state", inc.ID, i)
			}
		default:
			return fmt.Errorf("incident %s: history entry %d has unknown event %q", inc.ID, i, h.Event)
		}
	}
	if cur != inc.State {
		return fmt.Errorf("incident %s: state %q does not match history %q", inc.ID, inc.State, cur)
	}
	if (inc.Resolution != nil) != inc.State.HasResolution() {
		return fmt.Errorf("incident %s: resolution presence does not match state %s", inc.ID, inc.State)
	}
	if (inc.Report != nil) != (inc.State == StateClosed) {
		return fmt.Errorf("incident %s: report presence does not match state %s", inc.ID, inc.State)
	}
	if (inc.FailureReason != "") != (inc.State == StateFailed) {
		return fmt.Errorf("incident %s: failure reason does not match state %s", inc.ID, inc.State)
	}
	return nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	State    State
	Category Category
	Limit    int
}

// Matches reports whether inc passes the filter.
func (f Filter) Matches(inc *Incident) bool {
	if f.State != "" && inc.State != f.State {
		return false
	}
	if f.Category != "" && inc.Category != f.Category {
		return false
	}
	return true
}
