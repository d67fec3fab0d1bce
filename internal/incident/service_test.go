package incident_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/incident/memstore"
	"github.com/linnemanlabs/faultline/internal/signal"
)

const (
	codePayload = `java.lang.NullPointerException: customer is null
	at com.acme.orders.OrderService.notifyCustomer(OrderService.java:87)
	at com.acme.orders.OrderController.place(OrderController.java:40)
	at org.springframework.web.servlet.FrameworkServlet.service(FrameworkServlet.java:897)`

	configPayload = `java.lang.IllegalStateException: Missing required property 'spring.datasource.url'
	at com.acme.orders.DataConfig.dataSource(DataConfig.java:22)
	at org.springframework.beans.factory.support.SimpleInstantiationStrategy.instantiate(SimpleInstantiationStrategy.java:154)`

	unknownPayload = `2026-03-01 12:00:00 ERROR upstream returned an unexpected response`
)

// kindClassifier maps exception kinds to categories; everything else is
// unclassified.
type kindClassifier map[string]incident.Category

func (k kindClassifier) Classify(sig *signal.Signal) (incident.Category, incident.Priority) {
	if c, ok := k[sig.Kind]; ok {
		return c, incident.PriorityHigh
	}
	return incident.CategoryUnclassified, incident.PriorityLow
}

func (k kindClassifier) Explain(sig *signal.Signal) string {
	if _, ok := k[sig.Kind]; ok {
		return "kind:" + sig.Kind
	}
	return "default"
}

var classifier = kindClassifier{
	"java.lang.NullPointerException":  incident.CategoryCodeDefect,
	"java.lang.IllegalStateException": incident.CategoryConfigurationDefect,
}

type fixerFunc func(ctx context.Context, repo incident.RepoContext, frame signal.Frame, trace string) (*incident.CodeFix, error)

func (f fixerFunc) CreateCodeFix(ctx context.Context, repo incident.RepoContext, frame signal.Frame, trace string) (*incident.CodeFix, error) {
	return f(ctx, repo, frame, trace)
}

type docsFunc func(ctx context.Context, kind, message string) (*incident.DocRef, error)

func (f docsFunc) LookupConfigDoc(ctx context.Context, kind, message string) (*incident.DocRef, error) {
	return f(ctx, kind, message)
}

func prFixer(ref string) fixerFunc {
	return func(context.Context, incident.RepoContext, signal.Frame, string) (*incident.CodeFix, error) {
		return &incident.CodeFix{Reference: ref, Description: "null guard"}, nil
	}
}

var datasourceDocs = docsFunc(func(context.Context, string, string) (*incident.DocRef, error) {
	return &incident.DocRef{Reference: "https://docs.test/datasource", Title: "Datasource configuration"}, nil
})

// recordingNotifier captures every event it is sent.
type recordingNotifier struct {
	mu     sync.Mutex
	events []incident.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev incident.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) count(kind incident.NotifyEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type recordingDeliverer struct {
	mu          sync.Mutex
	reports     []*incident.Report
	attachments [][]byte
}

func (r *recordingDeliverer) DeliverReport(_ context.Context, _ *incident.Incident, report *incident.Report, attachment []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	r.attachments = append(r.attachments, attachment)
	return nil
}

type narratorFunc func(ctx context.Context, system, prompt string) (string, error)

func (f narratorFunc) Narrate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

type escalatorFunc func(ctx context.Context, inc *incident.Incident) error

func (f escalatorFunc) Escalate(ctx context.Context, inc *incident.Incident) error {
	return f(ctx, inc)
}

// failingStore wraps a store and refuses to commit Closed while failClose
// is set.
type failingStore struct {
	incident.Store
	failClose atomic.Bool
	openErr   error
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) Open(ctx context.Context, key string, create incident.CreateFunc, merge incident.MutateFunc) (*incident.Incident, bool, error) {
	if f.openErr != nil {
		return nil, false, f.openErr
	}
	return f.Store.Open(ctx, key, create, merge)
}

func (f *failingStore) Update(ctx context.Context, id string, fn incident.MutateFunc) (*incident.Incident, error) {
	return f.Store.Update(ctx, id, func(inc *incident.Incident) error {
		if err := fn(inc); err != nil {
			return err
		}
		if inc.State == incident.StateClosed && f.failClose.Load() {
			return errStoreDown
		}
		return nil
	})
}

type harness struct {
	svc       *incident.Service
	store     incident.Store
	notifier  *recordingNotifier
	deliverer *recordingDeliverer
}

func newHarness(t *testing.T, store incident.Store, fixer incident.CodeFixer, docs incident.DocLookup, opts incident.Options) *harness {
	t.Helper()
	if store == nil {
		store = memstore.New()
	}
	h := &harness{store: store, notifier: &recordingNotifier{}, deliverer: &recordingDeliverer{}}
	if opts.Notifier == nil {
		opts.Notifier = h.notifier
	}
	if opts.Deliverer == nil {
		opts.Deliverer = h.deliverer
	}
	dispatcher := incident.NewDispatcher(incident.RepoContext{Repository: "acme/orders", BaseBranch: "main"}, fixer, docs)
	h.svc = incident.NewService(store, signal.NewParser("com.acme"), classifier, dispatcher, log.Nop(), opts)
	return h
}

// wait blocks until every lifecycle goroutine and notification finished.
func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func (h *harness) get(t *testing.T, id string) *incident.Incident {
	t.Helper()
	inc, ok, err := h.svc.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", id, ok, err)
	}
	return inc
}

func states(inc *incident.Incident) []incident.State {
	var out []incident.State
	for _, h := range inc.History {
		if h.Event == incident.EventTransition {
			out = append(out, h.To)
		}
	}
	return out
}

func equalStates(a, b []incident.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestService_CodeDefectClosesWithPullRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, prFixer("https://github.test/acme/orders/pull/7"), nil, incident.Options{})
	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Merged || res.Category != incident.CategoryCodeDefect {
		t.Errorf("result = %+v", res)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateClosed {
		t.Fatalf("State = %s, want closed (history %+v)", inc.State, inc.History)
	}
	want := []incident.State{
		incident.StateDetected, incident.StateRouted, incident.StateResolving,
		incident.StateResolvingComplete, incident.StateReportPending, incident.StateClosed,
	}
	if got := states(inc); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if inc.Resolution == nil || inc.Resolution.Reference != "https://github.test/acme/orders/pull/7" {
		t.Errorf("Resolution = %+v", inc.Resolution)
	}
	if inc.Report == nil || inc.Report.ID != "RETRO-"+inc.ID {
		t.Fatalf("Report = %+v", inc.Report)
	}
	if inc.Signal.Primary == nil || inc.Signal.Primary.Method != "notifyCustomer" {
		t.Errorf("Primary = %+v", inc.Signal.Primary)
	}
	if err := inc.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	for _, kind := range []incident.NotifyEvent{incident.NotifyDetected, incident.NotifyDispatched, incident.NotifyClosed} {
		if n := h.notifier.count(kind); n != 1 {
			t.Errorf("%s notifications = %d, want 1", kind, n)
		}
	}
	if n := h.notifier.count(incident.NotifyFailed); n != 0 {
		t.Errorf("failed notifications = %d, want 0", n)
	}

	if len(h.deliverer.reports) != 1 {
		t.Fatalf("delivered %d reports, want 1", len(h.deliverer.reports))
	}
	if !strings.HasPrefix(string(h.deliverer.attachments[0]), "# Incident Retrospective: NullPointerException in com.acme.orders.OrderService.notifyCustomer") {
		t.Errorf("attachment starts %q", string(h.deliverer.attachments[0])[:60])
	}
}

func TestService_ConfigurationDefectClosesWithDocumentation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, datasourceDocs, incident.Options{})
	res, err := h.svc.Submit(context.Background(), configPayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateClosed {
		t.Fatalf("State = %s, want closed", inc.State)
	}
	if inc.Resolution.Kind != incident.ResolutionConfigDoc || inc.Resolution.Reference != "https://docs.test/datasource" {
		t.Errorf("Resolution = %+v", inc.Resolution)
	}
	if inc.Report.Resolution.Outcome != "Configuration documentation linked: https://docs.test/datasource" {
		t.Errorf("Outcome = %q", inc.Report.Resolution.Outcome)
	}
}

func TestService_UnclassifiedIsEscalated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, nil, incident.Options{})
	res, err := h.svc.Submit(context.Background(), unknownPayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Category != incident.CategoryUnclassified {
		t.Errorf("Category = %s", res.Category)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	want := []incident.State{incident.StateDetected, incident.StateRouted, incident.StateReportPending, incident.StateClosed}
	if got := states(inc); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if inc.Resolution.Kind != incident.ResolutionManualTriage || inc.Resolution.Reference != "" {
		t.Errorf("Resolution = %+v", inc.Resolution)
	}
	if n := h.notifier.count(incident.NotifyEscalated); n != 1 {
		t.Errorf("escalated notifications = %d, want 1", n)
	}
	if n := h.notifier.count(incident.NotifyDispatched); n != 0 {
		t.Errorf("dispatched notifications = %d, want 0", n)
	}
}

func TestService_EscalatorReplacesNotification(t *testing.T) {
	t.Parallel()

	var escalated atomic.Int32
	h := newHarness(t, nil, nil, nil, incident.Options{
		Escalator: escalatorFunc(func(_ context.Context, inc *incident.Incident) error {
			if inc.State != incident.StateReportPending {
				t.Errorf("escalated in state %s", inc.State)
			}
			escalated.Add(1)
			return nil
		}),
	})
	if _, err := h.svc.Submit(context.Background(), unknownPayload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	if escalated.Load() != 1 {
		t.Errorf("Escalate called %d times, want 1", escalated.Load())
	}
	if n := h.notifier.count(incident.NotifyEscalated); n != 0 {
		t.Errorf("escalated notifications = %d, want 0 when an escalator is set", n)
	}
}

func TestService_DuplicateMergesIntoActiveIncident(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	fixer := fixerFunc(func(ctx context.Context, _ incident.RepoContext, _ signal.Frame, _ string) (*incident.CodeFix, error) {
		calls.Add(1)
		close(started)
		<-release
		return &incident.CodeFix{Reference: "https://github.test/acme/orders/pull/8"}, nil
	})
	h := newHarness(t, nil, fixer, nil, incident.Options{})
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	second, err := h.svc.Submit(ctx, codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !second.Merged || second.ID != first.ID {
		t.Errorf("second submit = %+v, want merge into %s", second, first.ID)
	}

	close(release)
	h.wait(t)

	inc := h.get(t, first.ID)
	if inc.MergedSignals != 1 {
		t.Errorf("MergedSignals = %d, want 1", inc.MergedSignals)
	}
	if inc.State != incident.StateClosed {
		t.Errorf("State = %s, want closed", inc.State)
	}
	if calls.Load() != 1 {
		t.Errorf("dispatched %d times, want 1", calls.Load())
	}
	if n := h.notifier.count(incident.NotifyDetected); n != 1 {
		t.Errorf("detected notifications = %d, want 1", n)
	}

	all, err := h.svc.List(ctx, incident.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List = %d incidents, want 1", len(all))
	}
}

func TestService_ConcurrentDuplicatesCollapse(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fixer := fixerFunc(func(context.Context, incident.RepoContext, signal.Frame, string) (*incident.CodeFix, error) {
		<-release
		return &incident.CodeFix{Reference: "https://github.test/acme/orders/pull/9"}, nil
	})
	h := newHarness(t, nil, fixer, nil, incident.Options{})

	const n = 20
	var wg sync.WaitGroup
	var merged atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.Submit(context.Background(), codePayload)
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if res.Merged {
				merged.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	h.wait(t)

	if merged.Load() != n-1 {
		t.Errorf("merged = %d, want %d", merged.Load(), n-1)
	}
	all, _ := h.svc.List(context.Background(), incident.Filter{})
	if len(all) != 1 || all[0].MergedSignals != n-1 {
		t.Fatalf("incidents = %d, merged signals = %d", len(all), all[0].MergedSignals)
	}
}

func TestService_DispatchTimeoutFails(t *testing.T) {
	t.Parallel()

	fixer := fixerFunc(func(ctx context.Context, _ incident.RepoContext, _ signal.Frame, _ string) (*incident.CodeFix, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, nil, fixer, nil, incident.Options{DispatchTimeout: 20 * time.Millisecond})

	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateFailed {
		t.Fatalf("State = %s, want failed", inc.State)
	}
	if inc.FailureReason != "dispatch timeout" {
		t.Errorf("FailureReason = %q, want dispatch timeout", inc.FailureReason)
	}
	if inc.Resolution != nil || inc.Report != nil {
		t.Error("failed incident should have no resolution and no report")
	}
	if n := h.notifier.count(incident.NotifyFailed); n != 1 {
		t.Errorf("failed notifications = %d, want 1", n)
	}
	if n := h.notifier.count(incident.NotifyClosed); n != 0 {
		t.Errorf("closed notifications = %d, want 0", n)
	}
}

func TestService_DispatchErrorFails(t *testing.T) {
	t.Parallel()

	fixer := fixerFunc(func(context.Context, incident.RepoContext, signal.Frame, string) (*incident.CodeFix, error) {
		return nil, errors.New("no fix available for frame")
	})
	h := newHarness(t, nil, fixer, nil, incident.Options{})

	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateFailed {
		t.Fatalf("State = %s, want failed", inc.State)
	}
	if !strings.Contains(inc.FailureReason, "no fix available for frame") {
		t.Errorf("FailureReason = %q", inc.FailureReason)
	}

	// a failed incident releases its key; the next signal opens a new one
	again, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if again.Merged || again.ID == res.ID {
		t.Errorf("resubmit after failure = %+v, want a new incident", again)
	}
	h.wait(t)
}

func TestService_MissingCapabilityFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, nil, incident.Options{})
	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateFailed || !strings.Contains(inc.FailureReason, incident.ErrNoCapability.Error()) {
		t.Errorf("state=%s reason=%q", inc.State, inc.FailureReason)
	}
}

func TestService_RejectsNonLogPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, nil, incident.Options{})
	_, err := h.svc.Submit(context.Background(), "hello world")
	if !errors.Is(err, signal.ErrNotLogPayload) {
		t.Fatalf("err = %v, want ErrNotLogPayload", err)
	}
	all, _ := h.svc.List(context.Background(), incident.Filter{})
	if len(all) != 0 {
		t.Errorf("rejected payload created %d incidents", len(all))
	}
}

func TestService_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memstore.New(), openErr: errStoreDown}
	h := newHarness(t, store, nil, nil, incident.Options{})

	_, err := h.svc.Submit(context.Background(), codePayload)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want errStoreDown", err)
	}
	if n := h.notifier.count(incident.NotifyDetected); n != 0 {
		t.Errorf("detected notifications = %d, want 0", n)
	}
}

func TestService_RetryReport(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memstore.New()}
	store.failClose.Store(true)
	h := newHarness(t, store, prFixer("https://github.test/acme/orders/pull/10"), nil, incident.Options{})
	ctx := context.Background()

	res, err := h.svc.Submit(ctx, codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateReportPending {
		t.Fatalf("State = %s, want report_pending after a failed close", inc.State)
	}
	if inc.Report != nil {
		t.Error("report should not be stored when close failed")
	}

	preview, ok, err := h.svc.PreviewReport(ctx, res.ID)
	if err != nil || !ok {
		t.Fatalf("PreviewReport: ok=%v err=%v", ok, err)
	}
	if preview.Summary.State != incident.StateReportPending {
		t.Errorf("preview state = %s", preview.Summary.State)
	}

	store.failClose.Store(false)
	closed, err := h.svc.RetryReport(ctx, res.ID)
	if err != nil {
		t.Fatalf("RetryReport: %v", err)
	}
	if closed.State != incident.StateClosed || closed.Report == nil {
		t.Errorf("after retry state=%s report=%v", closed.State, closed.Report != nil)
	}
	h.wait(t)

	if _, err := h.svc.RetryReport(ctx, res.ID); !errors.Is(err, incident.ErrNotReportPending) {
		t.Errorf("retry on closed = %v, want ErrNotReportPending", err)
	}
	if _, err := h.svc.RetryReport(ctx, "missing"); !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("retry on missing = %v, want ErrNotFound", err)
	}
	if n := h.notifier.count(incident.NotifyClosed); n != 1 {
		t.Errorf("closed notifications = %d, want 1", n)
	}
}

func TestService_NarratorShapesRootCause(t *testing.T) {
	t.Parallel()

	var prompts atomic.Value
	narrator := narratorFunc(func(_ context.Context, _, prompt string) (string, error) {
		prompts.Store(prompt)
		return "The order service dereferenced a missing customer.", nil
	})
	h := newHarness(t, nil, prFixer("https://github.test/acme/orders/pull/11"), nil, incident.Options{Narrator: narrator})

	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.Report.RootCause.Narrative != "The order service dereferenced a missing customer." {
		t.Errorf("Narrative = %q", inc.Report.RootCause.Narrative)
	}
	if p, _ := prompts.Load().(string); !strings.Contains(p, "java.lang.NullPointerException") {
		t.Errorf("prompt = %q", p)
	}
}

func TestService_NarratorFailureKeepsTemplate(t *testing.T) {
	t.Parallel()

	narrator := narratorFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("model overloaded")
	})
	h := newHarness(t, nil, prFixer("https://github.test/acme/orders/pull/12"), nil, incident.Options{Narrator: narrator})

	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	inc := h.get(t, res.ID)
	if inc.State != incident.StateClosed {
		t.Fatalf("State = %s, want closed", inc.State)
	}
	if !strings.HasPrefix(inc.Report.RootCause.Narrative, "A java.lang.NullPointerException was raised") {
		t.Errorf("Narrative = %q", inc.Report.RootCause.Narrative)
	}
}

func TestService_NotifierErrorsDoNotChangeState(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{err: errors.New("slack down")}
	h := newHarness(t, nil, prFixer("https://github.test/acme/orders/pull/13"), nil, incident.Options{Notifier: notifier})

	res, err := h.svc.Submit(context.Background(), codePayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)

	if inc := h.get(t, res.ID); inc.State != incident.StateClosed {
		t.Errorf("State = %s, want closed", inc.State)
	}
}

func TestService_MetricsHooks(t *testing.T) {
	t.Parallel()

	m := incident.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, nil, prFixer("https://github.test/acme/orders/pull/14"), nil, incident.Options{Hooks: m.Hooks()})

	if _, err := h.svc.Submit(context.Background(), codePayload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.wait(t)
	if _, err := h.svc.Submit(context.Background(), "not a log line"); err == nil {
		t.Fatal("expected parse failure")
	}

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"created", m.SubmitsTotal.WithLabelValues("created"), 1},
		{"rejected", m.SubmitsTotal.WithLabelValues("rejected"), 1},
		{"dispatch success", m.DispatchTotal.WithLabelValues("code_defect", "success"), 1},
		{"report success", m.ReportsTotal.WithLabelValues("success"), 1},
		{"finished closed", m.IncidentsFinished.WithLabelValues("code_defect", "closed"), 1},
		{"routed", m.TransitionsTotal.WithLabelValues("detected", "routed"), 1},
		{"closed", m.TransitionsTotal.WithLabelValues("report_pending", "closed"), 1},
		{"notify closed", m.NotifyTotal.WithLabelValues("closed", "success"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}
