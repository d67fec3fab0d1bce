package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

var t0 = time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC)

func testIncident() *incident.Incident {
	return &incident.Incident{
		ID:       "01JN123",
		State:    incident.StateDetected,
		Category: incident.CategoryCodeDefect,
		Priority: incident.PriorityCritical,
		Signal: &signal.Signal{
			Kind:    "java.lang.NullPointerException",
			Message: "customer is null",
			Primary: &signal.Frame{Class: "com.acme.orders.OrderService", Method: "notifyCustomer", File: "OrderService.java", Line: 87},
			Trace:   "java.lang.NullPointerException: customer is null\n\tat com.acme.orders.OrderService.notifyCustomer(OrderService.java:87)",
			Service: "orders",
		},
		CreatedAt: t0,
	}
}

func decodeInto(t *testing.T, got *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestNotify_PostsDetectedEvent(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(decodeInto(t, &got))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	ev := incident.Event{Kind: incident.NotifyDetected, Incident: testIncident(), At: t0}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, detail, context
	if len(blocks) != 5 {
		t.Fatalf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(header, "NullPointerException") || !strings.Contains(header, "Incident Detected") {
		t.Errorf("header text = %q", header)
	}
	if !strings.Contains(header, "\U0001f534") {
		t.Error("header should contain red circle for critical priority")
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	var texts []string
	for _, f := range fields {
		texts = append(texts, f.(map[string]any)["text"].(string))
	}
	joined := strings.Join(texts, "\n")
	for _, want := range []string{"*Category:* code_defect", "*Service:* orders", "OrderService.java:87"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fields missing %q:\n%s", want, joined)
		}
	}

	ctxText := blocks[4].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if ctxText != "faultline • incident 01JN123 • 2026-02-26 14:23 UTC" {
		t.Errorf("context = %q", ctxText)
	}
}

func TestNotify_FailedEventShowsReason(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(decodeInto(t, &got))
	defer srv.Close()

	inc := testIncident()
	inc.State = incident.StateFailed
	inc.FailureReason = "dispatch timeout"

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), incident.Event{Kind: incident.NotifyFailed, Incident: inc, At: t0}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks := got["blocks"].([]any)
	detail := blocks[3].(map[string]any)["text"].(map[string]any)["text"].(string)
	if detail != "*Failure:* dispatch timeout" {
		t.Errorf("detail = %q", detail)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	ev := incident.Event{Kind: incident.NotifyDetected, Incident: testIncident(), At: t0}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_TruncatesLongTrace(t *testing.T) {
	t.Parallel()

	inc := testIncident()
	inc.Signal.Trace = strings.Repeat("x", 4000)
	inc.Signal.Message = ""

	msg := buildEventMessage(incident.Event{Kind: incident.NotifyDetected, Incident: inc, At: t0})
	blocks := msg["blocks"].([]map[string]any)
	text := blocks[3]["text"].(map[string]any)["text"].(string)

	if len(text) > maxTraceLen+len("``````") {
		t.Errorf("detail length = %d, expected <= %d", len(text), maxTraceLen+6)
	}
	if !strings.HasSuffix(text, "...```") {
		t.Error("expected truncated trace to end with ...")
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Notify(context.Background(), incident.Event{Kind: incident.NotifyDetected, Incident: testIncident(), At: t0})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestEventEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     incident.NotifyEvent
		priority incident.Priority
		want     string
	}{
		{"failed", incident.NotifyFailed, incident.PriorityLow, "\U0001f534"},
		{"closed", incident.NotifyClosed, incident.PriorityCritical, "✅"},
		{"escalated", incident.NotifyEscalated, incident.PriorityMedium, "\U0001f6a8"},
		{"critical", incident.NotifyDetected, incident.PriorityCritical, "\U0001f534"},
		{"high", incident.NotifyDetected, incident.PriorityHigh, "\U0001f7e0"},
		{"medium", incident.NotifyDispatched, incident.PriorityMedium, "\U0001f7e1"},
		{"low", incident.NotifyDetected, incident.PriorityLow, "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := eventEmoji(tt.kind, tt.priority); got != tt.want {
				t.Errorf("eventEmoji(%q, %q) = %q, want %q", tt.kind, tt.priority, got, tt.want)
			}
		})
	}
}

func testReport() *incident.Report {
	return &incident.Report{
		ID:          "RETRO-01JN123",
		IncidentID:  "01JN123",
		GeneratedAt: t0,
		Summary: incident.Summary{
			Title:    "NullPointerException in OrderService.notifyCustomer",
			Category: incident.CategoryCodeDefect,
			Priority: incident.PriorityCritical,
		},
		RootCause:  incident.RootCause{Narrative: "customer was null"},
		Resolution: incident.ResolutionDetail{Outcome: "Pull request opened"},
		Metrics:    incident.ReportMetrics{TimeToResolve: 95 * time.Second, Transitions: 5},
	}
}

func TestDeliverReport_UploadsAttachment(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		calls    []string
		uploaded []byte
		complete map[string]any
		summary  map[string]any
	)
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		record("webhook")
		_ = json.NewDecoder(r.Body).Decode(&summary)
	})
	mux.HandleFunc("/api/files.getUploadURLExternal", func(w http.ResponseWriter, r *http.Request) {
		record("reserve")
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("filename") != "RETRO-01JN123.md" || r.Form.Get("length") != "11" {
			t.Errorf("form = %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "upload_url": srv.URL + "/upload", "file_id": "F123"})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		record("upload")
		uploaded, _ = io.ReadAll(r.Body)
	})
	mux.HandleFunc("/api/files.completeUploadExternal", func(w http.ResponseWriter, r *http.Request) {
		record("complete")
		_ = json.NewDecoder(r.Body).Decode(&complete)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	n := New(srv.URL+"/webhook", log.Nop(), WithBotToken("xoxb-test", "C0INCIDENTS"), WithAPIBase(srv.URL+"/api/"))
	if err := n.DeliverReport(context.Background(), testIncident(), testReport(), []byte("# Retro\nok\n")); err != nil {
		t.Fatalf("DeliverReport: %v", err)
	}

	if got := strings.Join(calls, ","); got != "webhook,reserve,upload,complete" {
		t.Errorf("calls = %s", got)
	}
	if string(uploaded) != "# Retro\nok\n" {
		t.Errorf("uploaded = %q", uploaded)
	}
	if complete["channel_id"] != "C0INCIDENTS" {
		t.Errorf("channel_id = %v", complete["channel_id"])
	}
	files := complete["files"].([]any)
	if files[0].(map[string]any)["id"] != "F123" {
		t.Errorf("files = %v", files)
	}
	if summary["text"] != "Retrospective RETRO-01JN123" {
		t.Errorf("summary text = %v", summary["text"])
	}
}

func TestDeliverReport_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "not_in_channel"})
	}))
	defer srv.Close()

	n := New("", log.Nop(), WithBotToken("xoxb-test", "C1"), WithAPIBase(srv.URL))
	err := n.DeliverReport(context.Background(), testIncident(), testReport(), []byte("report"))
	if err == nil || !strings.Contains(err.Error(), "not_in_channel") {
		t.Fatalf("err = %v, want not_in_channel", err)
	}
}

func TestDeliverReport_WebhookOnly(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(decodeInto(t, &got))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.DeliverReport(context.Background(), testIncident(), testReport(), []byte("report")); err != nil {
		t.Fatalf("DeliverReport: %v", err)
	}
	blocks := got["blocks"].([]any)
	section := blocks[2].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(section, "customer was null") || !strings.Contains(section, "Pull request opened") {
		t.Errorf("section = %q", section)
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("java.lang.NullPointerException", "customer is null", "trace", "orders")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "```code block```", "svc")
	f.Add("kind\x00\x01\x02", "msg\nline", "trace\ttab", "s\x00vc")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), strings.Repeat("y", 10000), "svc")

	f.Fuzz(func(t *testing.T, kind, message, trace, service string) {
		inc := testIncident()
		inc.Signal = &signal.Signal{Kind: kind, Message: message, Trace: trace, Service: service}

		for _, k := range []incident.NotifyEvent{incident.NotifyDetected, incident.NotifyFailed, incident.NotifyClosed} {
			msg := buildEventMessage(incident.Event{Kind: k, Incident: inc, At: t0})

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("buildEventMessage produced non-marshalable output: %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("buildEventMessage JSON does not round-trip: %v", err)
			}
			if _, ok := decoded["blocks"].([]any); !ok {
				t.Fatal("expected blocks array")
			}
		}
	})
}
