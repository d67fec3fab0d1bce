// Package slack sends incident lifecycle notifications and retrospectives to
// Slack. Messages go to an incoming webhook; report files are uploaded with a
// bot token when one is configured.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
)

const (
	maxTraceLen = 2500
	httpTimeout = 10 * time.Second

	defaultAPIBase = "https://slack.com/api"
)

// Notifier posts incident events to a Slack webhook.
type Notifier struct {
	webhookURL string
	botToken   string
	channel    string
	apiBase    string
	client     *http.Client
	logger     log.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithBotToken enables report file uploads to channel (a channel ID). An
// empty channel uploads privately to the bot.
func WithBotToken(token, channel string) Option {
	return func(n *Notifier) {
		n.botToken = token
		n.channel = channel
	}
}

// WithAPIBase overrides the Slack Web API base URL.
func WithAPIBase(base string) Option {
	return func(n *Notifier) { n.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL: webhookURL,
		apiBase:    defaultAPIBase,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

var (
	_ incident.Notifier        = (*Notifier)(nil)
	_ incident.ReportDeliverer = (*Notifier)(nil)
)

// Notify posts a lifecycle event to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, ev incident.Event) error {
	if n.webhookURL == "" || ev.Incident == nil {
		return nil
	}
	return n.post(ctx, buildEventMessage(ev))
}

// DeliverReport posts a summary of the retrospective and, with a bot token,
// uploads the Markdown attachment.
func (n *Notifier) DeliverReport(ctx context.Context, inc *incident.Incident, report *incident.Report, attachment []byte) error {
	if report == nil {
		return nil
	}
	if n.webhookURL != "" {
		if err := n.post(ctx, buildReportMessage(report)); err != nil {
			return err
		}
	}
	if n.botToken == "" || len(attachment) == 0 {
		return nil
	}
	filename := fmt.Sprintf("%s.md", report.ID)
	comment := fmt.Sprintf("Retrospective for incident %s", inc.ID)
	if err := n.upload(ctx, filename, report.Summary.Title, comment, attachment); err != nil {
		return err
	}
	n.logger.Info(ctx, "retrospective uploaded to slack", "incident_id", inc.ID, "file", filename)
	return nil
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildEventMessage(ev incident.Event) map[string]any {
	inc := ev.Incident
	blocks := []map[string]any{
		headerBlock(ev),
		{"type": "divider"},
		fieldsBlock(inc),
	}
	if detail := detailText(ev); detail != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": detail},
		})
	}
	blocks = append(blocks, contextBlock(inc.ID, ev.At))
	return map[string]any{
		"text":   fmt.Sprintf("%s %s", eventTitle(ev.Kind), inc.ID),
		"blocks": blocks,
	}
}

func headerBlock(ev incident.Event) map[string]any {
	inc := ev.Incident
	kind := "unknown"
	if inc.Signal != nil {
		kind = inc.Signal.ShortKind()
	}
	text := fmt.Sprintf("%s %s: %s", eventEmoji(ev.Kind, inc.Priority), eventTitle(ev.Kind), kind)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(inc *incident.Incident) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*State:* %s", inc.State)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", inc.Category)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", inc.Priority)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Signals:* %d", inc.MergedSignals+1)},
	}
	if inc.Signal != nil && inc.Signal.Service != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Service:* %s", inc.Signal.Service)})
	}
	if inc.Signal.HasPrimaryFrame() {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Location:* `%s`", inc.Signal.Primary)})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailText(ev incident.Event) string {
	inc := ev.Incident
	switch ev.Kind {
	case incident.NotifyDetected, incident.NotifyEscalated:
		if inc.Signal == nil {
			return ""
		}
		var b strings.Builder
		if inc.Signal.Message != "" {
			fmt.Fprintf(&b, "*Message*\n%s\n\n", inc.Signal.Message)
		}
		if inc.Signal.Trace != "" {
			fmt.Fprintf(&b, "```%s```", truncate(inc.Signal.Trace, maxTraceLen))
		}
		return strings.TrimSpace(b.String())
	case incident.NotifyDispatched, incident.NotifyClosed:
		if inc.Resolution == nil {
			return ""
		}
		if inc.Resolution.Reference != "" {
			return fmt.Sprintf("*Resolution:* %s\n<%s>", inc.Resolution.Kind, inc.Resolution.Reference)
		}
		return fmt.Sprintf("*Resolution:* %s\n%s", inc.Resolution.Kind, inc.Resolution.Description)
	case incident.NotifyFailed:
		return fmt.Sprintf("*Failure:* %s", inc.FailureReason)
	}
	return ""
}

func buildReportMessage(r *incident.Report) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", r.Summary.Category)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", r.Summary.Priority)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Time to resolve:* %s", r.Metrics.TimeToResolve.Round(time.Second))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Transitions:* %d", r.Metrics.Transitions)},
	}
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": truncate("\U0001f4dd Retrospective: "+r.Summary.Title, 150)},
		},
		{"type": "section", "fields": fields},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Root cause*\n%s\n\n*Outcome*\n%s", truncate(r.RootCause.Narrative, maxTraceLen), r.Resolution.Outcome),
			},
		},
		contextBlock(r.IncidentID, r.GeneratedAt),
	}
	return map[string]any{
		"text":   "Retrospective " + r.ID,
		"blocks": blocks,
	}
}

func contextBlock(id string, ts time.Time) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("faultline • incident %s • %s", id, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func eventTitle(kind incident.NotifyEvent) string {
	switch kind {
	case incident.NotifyDetected:
		return "Incident Detected"
	case incident.NotifyDispatched:
		return "Resolution Dispatched"
	case incident.NotifyEscalated:
		return "Needs Manual Triage"
	case incident.NotifyClosed:
		return "Incident Closed"
	case incident.NotifyFailed:
		return "Incident Failed"
	}
	return "Incident Update"
}

func eventEmoji(kind incident.NotifyEvent, p incident.Priority) string {
	switch kind {
	case incident.NotifyFailed:
		return "\U0001f534" // red circle
	case incident.NotifyClosed:
		return "✅" // check mark
	case incident.NotifyEscalated:
		return "\U0001f6a8" // rotating light
	}
	switch p {
	case incident.PriorityCritical:
		return "\U0001f534"
	case incident.PriorityHigh:
		return "\U0001f7e0" // orange circle
	case incident.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
