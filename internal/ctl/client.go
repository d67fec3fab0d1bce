package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/faultline/internal/incident"
)

// APIError is a non-2xx answer from the faultline API.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the faultline HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the server at base.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Incident fetches one incident.
func (c *Client) Incident(ctx context.Context, id string) (*incident.Incident, error) {
	var inc incident.Incident
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(id), &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

type listResponse struct {
	Incidents []*incident.Incident `json:"incidents"`
	Count     int                  `json:"count"`
}

// Incidents lists incidents matching f.
func (c *Client) Incidents(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	q := url.Values{}
	if f.State != "" {
		q.Set("state", string(f.State))
	}
	if f.Category != "" {
		q.Set("category", string(f.Category))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/v1/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Incidents, nil
}

// Report previews the retrospective of an incident.
func (c *Client) Report(ctx context.Context, id string) (*incident.Report, error) {
	var r incident.Report
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(id)+"/report", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReportMarkdown fetches the retrospective rendered as Markdown.
func (c *Client) ReportMarkdown(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(id)+"/report?format=markdown")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// RetryReport re-runs report generation for an incident awaiting its report.
func (c *Client) RetryReport(ctx context.Context, id string) (*incident.Incident, error) {
	var inc incident.Incident
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/report", &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message, apiErr.Reason = body.Error, body.Reason
	}
	return nil, apiErr
}

// exitFor maps a client error to an ExitError.
func exitFor(message string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}
