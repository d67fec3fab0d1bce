package incident

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/faultline/internal/signal"
)

// Parser turns raw alert text into a Signal.
type Parser interface {
	Parse(raw string) (*signal.Signal, error)
}

// Classifier assigns a category and priority to a signal. Explain names
// the rule that matched, for audit history.
type Classifier interface {
	Classify(sig *signal.Signal) (Category, Priority)
	Explain(sig *signal.Signal) string
}

// RepoContext locates the source repository a code fix is opened against.
type RepoContext struct {
	Repository  string
	BaseBranch  string
	SourceRoots []string
}

// CodeFix is the result of a code-fix capability: a pull request.
type CodeFix struct {
	Reference   string
	Description string
}

// CodeFixer opens a pull request that addresses the fault at frame.
type CodeFixer interface {
	CreateCodeFix(ctx context.Context, repo RepoContext, frame signal.Frame, trace string) (*CodeFix, error)
}

// DocRef points at documentation for a configuration fault.
type DocRef struct {
	Reference string
	Title     string
}

// DocLookup finds documentation for a configuration fault.
type DocLookup interface {
	LookupConfigDoc(ctx context.Context, kind, message string) (*DocRef, error)
}

// NotifyEvent names the lifecycle moment a notification reports.
type NotifyEvent string

const (
	NotifyDetected   NotifyEvent = "detected"
	NotifyDispatched NotifyEvent = "dispatched"
	NotifyEscalated  NotifyEvent = "escalated"
	NotifyClosed     NotifyEvent = "closed"
	NotifyFailed     NotifyEvent = "failed"
)

// Event is a lifecycle notification. Incident is a snapshot taken when the
// event fired.
type Event struct {
	Kind     NotifyEvent
	Incident *Incident
	At       time.Time
}

// Notifier receives lifecycle events. Delivery is fire-and-forget: errors
// are logged and never change incident state.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// ReportDeliverer publishes a finished retrospective.
type ReportDeliverer interface {
	DeliverReport(ctx context.Context, inc *Incident, report *Report, attachment []byte) error
}

// Narrator phrases text for humans. Its output is advisory and never
// drives control flow.
type Narrator interface {
	Narrate(ctx context.Context, system, prompt string) (string, error)
}

// Escalator hands unclassified incidents to a human. When none is
// configured the orchestrator emits an escalated notification instead.
type Escalator interface {
	Escalate(ctx context.Context, inc *Incident) error
}

// MultiNotifier fans an event out to several notifiers and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
