package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/faultline/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/faultline/internal/incident")

const (
	// DefaultDispatchTimeout bounds a single remediation call.
	DefaultDispatchTimeout = 5 * time.Minute

	notifyTimeout  = 30 * time.Second
	narrateTimeout = 60 * time.Second
)

// ErrNotReportPending is returned by RetryReport for incidents that are not
// waiting on a report.
var ErrNotReportPending = errors.New("incident is not awaiting a report")

// SubmitResult is the outcome of submitting one alert payload.
type SubmitResult struct {
	ID       string   `json:"id"`
	Merged   bool     `json:"merged"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`
}

// Options carries the optional collaborators of a Service.
type Options struct {
	DispatchTimeout time.Duration
	Notifier        Notifier
	Deliverer       ReportDeliverer
	Narrator        Narrator
	Escalator       Escalator
	Hooks           Hooks
}

// Service drives incidents through their lifecycle: it parses and
// classifies signals, deduplicates them into incidents, dispatches
// remediation and produces the retrospective.
type Service struct {
	store      Store
	parser     Parser
	classifier Classifier
	dispatcher *Dispatcher
	logger     log.Logger
	opts       Options
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewService creates a new incident service.
func NewService(store Store, parser Parser, classifier Classifier, dispatcher *Dispatcher, logger log.Logger, opts Options) *Service {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Service{
		store:      store,
		parser:     parser,
		classifier: classifier,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit parses raw, classifies it and either merges it into the active
// incident with the same correlation key or opens a new one. New incidents
// continue through the lifecycle asynchronously.
func (s *Service) Submit(ctx context.Context, raw string) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "incident.Submit")
	defer span.End()

	sig, err := s.parser.Parse(raw)
	if err != nil {
		s.hookSubmit("rejected")
		span.SetStatus(codes.Error, "parse failure")
		return nil, err
	}

	category, priority := s.classifier.Classify(sig)
	rule := s.classifier.Explain(sig)
	key := CorrelationKey(sig)
	now := s.now()

	span.SetAttributes(
		attribute.String("incident.kind", sig.Kind),
		attribute.String("incident.category", string(category)),
		attribute.String("incident.priority", string(priority)),
	)

	inc, created, err := s.store.Open(ctx, key,
		func() (*Incident, error) {
			inc := &Incident{
				ID:             ulid.Make().String(),
				CorrelationKey: key,
				Category:       category,
				Priority:       priority,
				Rule:           rule,
				Signal:         sig,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := inc.Transition(StateDetected, ActorParser, fmt.Sprintf("%s signal %s", sig.Format, sig.Kind), now); err != nil {
				return nil, err
			}
			return inc, nil
		},
		func(inc *Incident) error {
			inc.MergeSignal(sig, now)
			if inc.State == StateDetected && priority.Outranks(inc.Priority) {
				return inc.Reclassify(category, priority, rule)
			}
			return nil
		},
	)
	if err != nil {
		s.hookSubmit("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("open incident: %w", err)
	}
	span.SetAttributes(attribute.String("incident.id", inc.ID), attribute.Bool("incident.merged", !created))

	L := s.logger.With("incident_id", inc.ID, "correlation_key", key)

	if !created {
		s.hookSubmit("merged")
		L.Info(ctx, "signal merged into active incident",
			"state", inc.State,
			"merged_signals", inc.MergedSignals,
		)
		return &SubmitResult{ID: inc.ID, Merged: true, Category: inc.Category, Priority: inc.Priority}, nil
	}

	s.hookSubmit("created")
	s.hookTransition(StateNone, StateDetected)
	L.Info(ctx, "incident detected",
		"kind", sig.Kind,
		"category", category,
		"priority", priority,
		"rule", rule,
	)
	s.notify(ctx, NotifyDetected, inc)

	note := fmt.Sprintf("category=%s priority=%s rule=%s", inc.Category, inc.Priority, inc.Rule)
	inc, err = s.transition(ctx, inc.ID, StateRouted, ActorClassifier, note, nil)
	if err != nil {
		s.hookSubmit("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("route incident: %w", err)
	}

	// pass only the ID so the lifecycle always works from stored state.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLifecycle(context.WithoutCancel(ctx), inc.ID)
	}()

	return &SubmitResult{ID: inc.ID, Category: inc.Category, Priority: inc.Priority}, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns incidents matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Incident, error) {
	return s.store.List(ctx, f)
}

// PreviewReport builds the retrospective for an incident without storing
// it. Closed incidents return their stored report.
func (s *Service) PreviewReport(ctx context.Context, id string) (*Report, bool, error) {
	inc, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	if inc.Report != nil {
		return inc.Report, true, nil
	}
	r, err := BuildReport(inc, s.now())
	if err != nil {
		return nil, true, err
	}
	return r, true, nil
}

// RetryReport re-runs report generation for an incident stuck in
// ReportPending.
func (s *Service) RetryReport(ctx context.Context, id string) (*Incident, error) {
	inc, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if inc.State != StateReportPending {
		return nil, fmt.Errorf("%w: state is %s", ErrNotReportPending, inc.State)
	}
	return s.closeWithReport(ctx, s.logger.With("incident_id", id), inc)
}

// Shutdown waits for in-flight lifecycles and notifications to finish or
// for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runLifecycle(ctx context.Context, id string) {
	ctx, span := tracer.Start(ctx, "incident.Lifecycle", trace.WithAttributes(attribute.String("incident.id", id)))
	defer span.End()

	L := s.logger.With("incident_id", id)

	inc, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch incident for lifecycle")
		return
	}

	if inc.Category == CategoryUnclassified {
		s.escalate(ctx, L, inc)
		return
	}

	inc, err = s.transition(ctx, id, StateResolving, ActorOrchestrator, "dispatching "+string(inc.Category), nil)
	if err != nil {
		L.Error(ctx, err, "failed to record resolving state")
		return
	}
	s.notify(ctx, NotifyDispatched, inc)

	// no store lock is held while the capability runs.
	start := time.Now()
	rec, err := s.dispatch(ctx, L, inc)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		reason := err.Error()
		var de *DispatchError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		outcome := "error"
		if de != nil && de.Timeout {
			outcome = "timeout"
		}
		s.hookDispatch(inc.Category, outcome, elapsed)
		L.Error(ctx, err, "dispatch failed", "category", inc.Category)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)

		inc, err = s.store.Update(ctx, id, func(inc *Incident) error {
			return inc.Fail(reason, ActorDispatcher, s.now())
		})
		if err != nil {
			L.Error(ctx, err, "failed to record dispatch failure")
			return
		}
		s.hookTransition(StateResolving, StateFailed)
		s.finished(inc)
		s.notify(ctx, NotifyFailed, inc)
		return
	}
	s.hookDispatch(inc.Category, "success", elapsed)

	inc, err = s.transition(ctx, id, StateResolvingComplete, ActorDispatcher, rec.Reference, func(inc *Incident) {
		inc.Resolution = rec
	})
	if err != nil {
		L.Error(ctx, err, "failed to record resolution")
		return
	}
	L.Info(ctx, "incident resolved", "resolution", rec.Kind, "reference", rec.Reference)

	inc, err = s.transition(ctx, id, StateReportPending, ActorOrchestrator, "", nil)
	if err != nil {
		L.Error(ctx, err, "failed to record report pending state")
		return
	}
	if _, err := s.closeWithReport(ctx, L, inc); err != nil {
		L.Warn(ctx, "report not produced; incident remains report_pending", "error", err)
	}
}

// escalate takes an unclassified incident straight to ReportPending with a
// manual triage record and hands it to a human.
func (s *Service) escalate(ctx context.Context, L log.Logger, inc *Incident) {
	rec, err := s.dispatcher.Dispatch(ctx, inc)
	if err != nil {
		L.Error(ctx, err, "manual triage record failed")
		return
	}
	inc, err = s.transition(ctx, inc.ID, StateReportPending, ActorOrchestrator, manualTriageNote, func(inc *Incident) {
		inc.Resolution = rec
	})
	if err != nil {
		L.Error(ctx, err, "failed to record manual triage")
		return
	}

	if s.opts.Escalator != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ectx, cancel := context.WithTimeout(ctx, notifyTimeout)
			defer cancel()
			if err := s.opts.Escalator.Escalate(ectx, inc); err != nil {
				L.Warn(ectx, "escalation failed", "error", err)
			}
		}()
	} else {
		s.notify(ctx, NotifyEscalated, inc)
	}

	if _, err := s.closeWithReport(ctx, L, inc); err != nil {
		L.Warn(ctx, "report not produced; incident remains report_pending", "error", err)
	}
}

// dispatch runs the dispatcher with a deadline. On expiry the call is left
// running and its result discarded.
func (s *Service) dispatch(ctx context.Context, L log.Logger, inc *Incident) (*ResolutionRecord, error) {
	ctx, span := tracer.Start(ctx, "incident.Dispatch", trace.WithAttributes(
		attribute.String("incident.category", string(inc.Category)),
	))
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
	defer cancel()

	type outcome struct {
		rec *ResolutionRecord
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		rec, err := s.dispatcher.Dispatch(dctx, inc)
		if dctx.Err() != nil && err == nil {
			L.Warn(ctx, "dispatch completed after timeout; result discarded", "reference", rec.Reference)
		}
		ch <- outcome{rec: rec, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, &DispatchError{Category: inc.Category, Err: o.err, Timeout: true}
		}
		return o.rec, o.err
	case <-dctx.Done():
		return nil, &DispatchError{Category: inc.Category, Err: dctx.Err(), Timeout: true}
	}
}

// closeWithReport builds the retrospective for a ReportPending incident and
// closes it. On a build error the incident is left untouched.
func (s *Service) closeWithReport(ctx context.Context, L log.Logger, inc *Incident) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.Report", trace.WithAttributes(attribute.String("incident.id", inc.ID)))
	defer span.End()

	report, err := BuildReport(inc, s.now())
	if err != nil {
		s.hookReport(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.hookReport(true)
	s.narrateReport(ctx, L, inc, report)

	closed, err := s.store.Update(ctx, inc.ID, func(cur *Incident) error {
		if cur.State != StateReportPending {
			return fmt.Errorf("%w: state is %s", ErrNotReportPending, cur.State)
		}
		cur.Report = report
		return cur.Transition(StateClosed, ActorReporter, report.ID, s.now())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.hookTransition(StateReportPending, StateClosed)
	s.finished(closed)
	L.Info(ctx, "incident closed", "report_id", report.ID)

	s.notify(ctx, NotifyClosed, closed)
	s.deliver(ctx, L, closed, report)
	return closed, nil
}

// narrateReport asks the Narrator for a plain-language root cause. Failures
// keep the deterministic narrative.
func (s *Service) narrateReport(ctx context.Context, L log.Logger, inc *Incident, report *Report) {
	if s.opts.Narrator == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, narrateTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Exception: %s\nMessage: %s\nLocation: %s\nCategory: %s\nResolution: %s\n\nStack trace:\n%s",
		inc.Signal.Kind, inc.Signal.Message, report.RootCause.Location, inc.Category,
		report.Resolution.Outcome, truncate(inc.Signal.Trace, 4000))
	text, err := s.opts.Narrator.Narrate(nctx, reportSystemPrompt, prompt)
	if err != nil {
		L.Warn(ctx, "report narration failed; using template", "error", err)
		return
	}
	if text != "" {
		report.RootCause.Narrative = text
	}
}

const reportSystemPrompt = `You write the root cause section of an incident retrospective.
Explain in two to four sentences what failed, where, and why, for an engineering audience.
Use only facts present in the input. Do not speculate about impact or suggest unrelated fixes.`

func (s *Service) deliver(ctx context.Context, L log.Logger, inc *Incident, report *Report) {
	if s.opts.Deliverer == nil {
		return
	}
	attachment := RenderMarkdown(report)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.opts.Deliverer.DeliverReport(dctx, inc, report, attachment); err != nil {
			L.Warn(dctx, "report delivery failed", "error", err)
		}
	}()
}

// notify sends ev without blocking the lifecycle. Errors are logged only.
func (s *Service) notify(ctx context.Context, kind NotifyEvent, inc *Incident) {
	if s.opts.Notifier == nil {
		return
	}
	ev := Event{Kind: kind, Incident: inc.Clone(), At: s.now()}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		err := s.opts.Notifier.Notify(nctx, ev)
		if s.opts.Hooks.OnNotify != nil {
			s.opts.Hooks.OnNotify(kind, err == nil)
		}
		if err != nil {
			s.logger.Warn(nctx, "notification failed", "incident_id", ev.Incident.ID, "event", kind, "error", err)
		}
	}()
}

// transition applies a single state change through the store. mutate, when
// set, runs in the same write before the transition is recorded.
func (s *Service) transition(ctx context.Context, id string, to State, actor, note string, mutate func(*Incident)) (*Incident, error) {
	var from State
	inc, err := s.store.Update(ctx, id, func(inc *Incident) error {
		from = inc.State
		if mutate != nil {
			mutate(inc)
		}
		return inc.Transition(to, actor, note, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.hookTransition(from, to)
	return inc, nil
}

func (s *Service) finished(inc *Incident) {
	if s.opts.Hooks.OnFinish != nil {
		s.opts.Hooks.OnFinish(inc.Category, inc.State, inc.UpdatedAt.Sub(inc.CreatedAt).Seconds())
	}
}

func (s *Service) hookSubmit(result string) {
	if s.opts.Hooks.OnSubmit != nil {
		s.opts.Hooks.OnSubmit(result)
	}
}

func (s *Service) hookTransition(from, to State) {
	if s.opts.Hooks.OnTransition != nil {
		s.opts.Hooks.OnTransition(from, to)
	}
}

func (s *Service) hookDispatch(c Category, outcome string, seconds float64) {
	if s.opts.Hooks.OnDispatch != nil {
		s.opts.Hooks.OnDispatch(c, outcome, seconds)
	}
}

func (s *Service) hookReport(ok bool) {
	if s.opts.Hooks.OnReport != nil {
		s.opts.Hooks.OnReport(ok)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

var _ Parser = (*signal.Parser)(nil)
