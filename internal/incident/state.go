package incident

import "fmt"

// State is a position in the incident lifecycle.
type State string

const (
	// StateNone is the state before creation. It never appears on a stored
	// incident, only as the From of its first history entry.
	StateNone State = ""

	StateDetected          State = "detected"
	StateRouted            State = "routed"
	StateResolving         State = "resolving"
	StateResolvingComplete State = "resolving_complete"
	StateReportPending     State = "report_pending"
	StateClosed            State = "closed"
	StateFailed            State = "failed"
)

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state; Routed -> ReportPending is the unclassified
// shortcut that skips dispatch.
var transitions = map[State][]State{
	StateNone:              {StateDetected},
	StateDetected:          {StateRouted, StateFailed},
	StateRouted:            {StateResolving, StateReportPending, StateFailed},
	StateResolving:         {StateResolvingComplete, StateFailed},
	StateResolvingComplete: {StateReportPending, StateFailed},
	StateReportPending:     {StateClosed, StateFailed},
}

// CanTransition reports whether s -> to is a legal move.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// HasResolution reports whether an incident in s carries a ResolutionRecord.
func (s State) HasResolution() bool {
	switch s {
	case StateResolvingComplete, StateReportPending, StateClosed:
		return true
	}
	return false
}

func (s State) String() string {
	if s == StateNone {
		return "none"
	}
	return string(s)
}

// ParseState validates a state name.
func ParseState(v string) (State, error) {
	s := State(v)
	if _, ok := transitions[s]; ok && s != StateNone {
		return s, nil
	}
	if s.Terminal() {
		return s, nil
	}
	return "", fmt.Errorf("unknown state %q", v)
}
