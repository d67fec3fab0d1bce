package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

// fakeService records calls and returns canned results.
type fakeService struct {
	mu        sync.Mutex
	submitted []string

	submitErr  error
	incidents  map[string]*incident.Incident
	getErr     error
	listErr    error
	lastFilter incident.Filter
	report     *incident.Report
	reportErr  error
	retryErr   error
}

func newFakeService() *fakeService {
	return &fakeService{incidents: map[string]*incident.Incident{}}
}

func (f *fakeService) Submit(_ context.Context, raw string) (*incident.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if strings.TrimSpace(raw) == "" {
		return nil, &signal.ParseFailure{Reason: "empty payload"}
	}
	f.submitted = append(f.submitted, raw)
	return &incident.SubmitResult{
		ID:       "01JNINC",
		Merged:   len(f.submitted) > 1,
		Category: incident.CategoryCodeDefect,
		Priority: incident.PriorityCritical,
	}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	inc, ok := f.incidents[id]
	return inc, ok, nil
}

func (f *fakeService) List(_ context.Context, flt incident.Filter) ([]*incident.Incident, error) {
	f.mu.Lock()
	f.lastFilter = flt
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*incident.Incident
	for _, inc := range f.incidents {
		if flt.Matches(inc) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *fakeService) PreviewReport(_ context.Context, id string) (*incident.Report, bool, error) {
	if f.reportErr != nil {
		return nil, false, f.reportErr
	}
	if _, ok := f.incidents[id]; !ok {
		return nil, false, nil
	}
	return f.report, true, nil
}

func (f *fakeService) RetryReport(_ context.Context, id string) (*incident.Incident, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	inc, ok := f.incidents[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	cp := *inc
	cp.State = incident.StateClosed
	return &cp, nil
}

func newTestRouter(t *testing.T, svc IncidentService, opts ...Option) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, svc, opts...).RegisterRoutes(r)
	return r
}

func sampleIncident(id string, state incident.State) *incident.Incident {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &incident.Incident{
		ID:       id,
		State:    state,
		Category: incident.CategoryCodeDefect,
		Priority: incident.PriorityCritical,
		Signal: &signal.Signal{
			Kind:    "java.lang.NullPointerException",
			Message: "customer is null",
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func sampleReport(id string) *incident.Report {
	return &incident.Report{
		ID:          "RETRO-" + id,
		IncidentID:  id,
		GeneratedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Summary: incident.Summary{
			Title:    "NullPointerException in OrderService",
			Category: incident.CategoryCodeDefect,
			Priority: incident.PriorityCritical,
			State:    incident.StateReportPending,
		},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newFakeService())
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
	if api.maxPayload != defaultMaxPayload {
		t.Errorf("maxPayload = %d, want %d", api.maxPayload, defaultMaxPayload)
	}
}

func TestNew_WithOptions(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), newFakeService(), WithMaxPayload(64))
	if api.maxPayload != 64 {
		t.Errorf("maxPayload = %d, want 64", api.maxPayload)
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["01JNINC"] = sampleIncident("01JNINC", incident.StateReportPending)
	svc.report = sampleReport("01JNINC")
	r := newTestRouter(t, svc)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"list incidents", http.MethodGet, "/api/v1/incidents", http.StatusOK},
		{"get incident", http.MethodGet, "/api/v1/incidents/01JNINC", http.StatusOK},
		{"get report", http.MethodGet, "/api/v1/incidents/01JNINC/report", http.StatusOK},
		{"retry report", http.MethodPost, "/api/v1/incidents/01JNINC/report", http.StatusOK},
		{"GET signals not allowed", http.MethodGet, "/api/v1/signals", http.StatusMethodNotAllowed},
		{"DELETE incident not allowed", http.MethodDelete, "/api/v1/incidents/01JNINC", http.StatusMethodNotAllowed},
		{"POST incidents not allowed", http.MethodPost, "/api/v1/incidents", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{"root", http.MethodGet, "/", http.StatusNotFound},
		{"wrong version", http.MethodPost, "/api/v2/signals", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// Signal ingestion

func TestIngestSignal(t *testing.T) {
	t.Parallel()

	trace := "java.lang.NullPointerException: customer is null\n\tat com.acme.orders.OrderService.notifyCustomer(OrderService.java:87)"
	jsonBody, _ := json.Marshal(signalRequest{LogContent: trace})

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
		wantRaw     string
	}{
		{"json webhook", string(jsonBody), "application/json", http.StatusAccepted, trace},
		{"json with charset", string(jsonBody), "application/json; charset=utf-8", http.StatusAccepted, trace},
		{"plain text", trace, "text/plain", http.StatusAccepted, trace},
		{"no content type", trace, "", http.StatusAccepted, trace},
		{"invalid json", "{bad", "application/json", http.StatusBadRequest, ""},
		{"empty json content", `{"log_content":""}`, "application/json", http.StatusUnprocessableEntity, ""},
		{"empty body", "", "text/plain", http.StatusUnprocessableEntity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			r := newTestRouter(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantRaw == "" {
				return
			}
			if len(svc.submitted) != 1 || svc.submitted[0] != tt.wantRaw {
				t.Errorf("submitted = %q", svc.submitted)
			}
			var res incident.SubmitResult
			if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.ID != "01JNINC" || res.Category != incident.CategoryCodeDefect || res.Priority != incident.PriorityCritical {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestIngestSignal_NotALogPayload(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.submitErr = &signal.ParseFailure{Reason: "no exception header found"}
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader("hello world"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Error != "not a log payload" || e.Reason != "no exception header found" {
		t.Errorf("error = %+v", e)
	}
}

func TestIngestSignal_StoreUnavailable(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.submitErr = errors.New("connection refused")
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader("panic: boom"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if e := decodeError(t, rec); strings.Contains(e.Error, "connection refused") {
		t.Errorf("internal error leaked: %+v", e)
	}
}

func TestIngestSignal_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	r := newTestRouter(t, svc, WithMaxPayload(16))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(strings.Repeat("x", 17)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if len(svc.submitted) != 0 {
		t.Error("oversized payload should not be submitted")
	}
}

func TestIngestSignal_MergedSecondSubmit(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	r := newTestRouter(t, svc)

	var last incident.SubmitResult
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader("panic: boom"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		if err := json.NewDecoder(rec.Body).Decode(&last); err != nil {
			t.Fatal(err)
		}
	}
	if !last.Merged {
		t.Error("second submit should report merged")
	}
}

// Incident queries

func TestGetIncident(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["01JNINC"] = sampleIncident("01JNINC", incident.StateRouted)
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/01JNINC", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got incident.Incident
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "01JNINC" || got.State != incident.StateRouted {
		t.Errorf("incident = %+v", got)
	}
}

func TestGetIncident_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newFakeService())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetIncident_StoreError(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.getErr = errors.New("db down")
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/x", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListIncidents_Filters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantFilter incident.Filter
	}{
		{"defaults", "", http.StatusOK, incident.Filter{Limit: 50}},
		{"state", "?state=closed", http.StatusOK, incident.Filter{State: incident.StateClosed, Limit: 50}},
		{"category and limit", "?category=configuration_defect&limit=5", http.StatusOK,
			incident.Filter{Category: incident.CategoryConfigurationDefect, Limit: 5}},
		{"max limit", "?limit=500", http.StatusOK, incident.Filter{Limit: 500}},
		{"bad state", "?state=sleeping", http.StatusBadRequest, incident.Filter{}},
		{"bad category", "?category=network", http.StatusBadRequest, incident.Filter{}},
		{"zero limit", "?limit=0", http.StatusBadRequest, incident.Filter{}},
		{"limit too large", "?limit=501", http.StatusBadRequest, incident.Filter{}},
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest, incident.Filter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			r := newTestRouter(t, svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents"+tt.query, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && svc.lastFilter != tt.wantFilter {
				t.Errorf("filter = %+v, want %+v", svc.lastFilter, tt.wantFilter)
			}
		})
	}
}

func TestListIncidents_Body(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["a"] = sampleIncident("a", incident.StateClosed)
	svc.incidents["b"] = sampleIncident("b", incident.StateRouted)
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents?state=closed", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body struct {
		Incidents []incident.Incident `json:"incidents"`
		Count     int                 `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || len(body.Incidents) != 1 || body.Incidents[0].ID != "a" {
		t.Errorf("body = %+v", body)
	}
}

func TestListIncidents_EmptyIsArray(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newFakeService())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"incidents":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// Reports

func TestGetReport_JSONAndMarkdown(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["01JNINC"] = sampleIncident("01JNINC", incident.StateReportPending)
	svc.report = sampleReport("01JNINC")
	r := newTestRouter(t, svc)

	tests := []struct {
		name     string
		path     string
		accept   string
		wantType string
		contains string
	}{
		{"json", "/api/v1/incidents/01JNINC/report", "", "application/json", `"id":"RETRO-01JNINC"`},
		{"format param", "/api/v1/incidents/01JNINC/report?format=markdown", "", "text/markdown; charset=utf-8", "# Incident Retrospective: NullPointerException in OrderService"},
		{"accept header", "/api/v1/incidents/01JNINC/report", "text/markdown", "text/markdown; charset=utf-8", "RETRO-01JNINC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body missing %q:\n%s", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestGetReport_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		id         string
		wantStatus int
	}{
		{"not found", nil, "missing", http.StatusNotFound},
		{"build error", &incident.ReportBuildError{IncidentID: "x", Reason: "no resolution recorded"}, "x", http.StatusConflict},
		{"store error", errors.New("db down"), "x", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			svc.reportErr = tt.err
			r := newTestRouter(t, svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/"+tt.id+"/report", http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRetryReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"closes incident", nil, http.StatusOK},
		{"not found", incident.ErrNotFound, http.StatusNotFound},
		{"wrong state", incident.ErrNotReportPending, http.StatusConflict},
		{"build error", &incident.ReportBuildError{IncidentID: "01JNINC", Reason: "no resolution"}, http.StatusConflict},
		{"store error", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			svc.incidents["01JNINC"] = sampleIncident("01JNINC", incident.StateReportPending)
			svc.retryErr = tt.err
			r := newTestRouter(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/01JNINC/report", http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got incident.Incident
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.State != incident.StateClosed {
				t.Errorf("state = %s, want closed", got.State)
			}
		})
	}
}

// Authentication groups

func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func TestAuthGroups(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["01JNINC"] = sampleIncident("01JNINC", incident.StateRouted)

	ingestLocked := newTestRouter(t, svc, WithIngestAuth(denyAll))
	queryLocked := newTestRouter(t, svc, WithQueryAuth(denyAll))

	tests := []struct {
		name       string
		router     chi.Router
		method     string
		path       string
		wantStatus int
	}{
		{"ingest locked: signals", ingestLocked, http.MethodPost, "/api/v1/signals", http.StatusUnauthorized},
		{"ingest locked: query open", ingestLocked, http.MethodGet, "/api/v1/incidents/01JNINC", http.StatusOK},
		{"query locked: incident", queryLocked, http.MethodGet, "/api/v1/incidents/01JNINC", http.StatusUnauthorized},
		{"query locked: list", queryLocked, http.MethodGet, "/api/v1/incidents", http.StatusUnauthorized},
		{"query locked: retry", queryLocked, http.MethodPost, "/api/v1/incidents/01JNINC/report", http.StatusUnauthorized},
		{"query locked: ingest open", queryLocked, http.MethodPost, "/api/v1/signals", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("panic: boom"))
			rec := httptest.NewRecorder()
			tt.router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func FuzzSignalIngestion(f *testing.F) {
	r := chi.NewRouter()
	New(nil, newFakeService(), WithMaxPayload(4096)).RegisterRoutes(r)

	seeds := []struct {
		body        []byte
		contentType string
	}{
		{nil, ""},
		{[]byte(""), "application/json"},
		{[]byte("{}"), "application/json"},
		{[]byte(`{"log_content":"panic: boom"}`), "application/json"},
		{[]byte("{invalid json"), "application/json"},
		{[]byte("\x00\x01\x02\xff\xfe"), "application/octet-stream"},
		{[]byte("Traceback (most recent call last):\nKeyError: 'x'"), "text/plain"},
		{[]byte(strings.Repeat("a", 5000)), "text/plain"},
	}
	for _, s := range seeds {
		f.Add(s.body, s.contentType)
	}

	f.Fuzz(func(t *testing.T, body []byte, contentType string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(string(body)))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusAccepted, http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		default:
			t.Errorf("POST /api/v1/signals len=%d content-type=%q = %d", len(body), contentType, rec.Code)
		}
	})
}
