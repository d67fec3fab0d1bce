// Package alertapi exposes signal ingestion and incident queries over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/faultline/internal/incident"
)

// IncidentService defines the business operations alertapi needs.
type IncidentService interface {
	Submit(ctx context.Context, raw string) (*incident.SubmitResult, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error)
	PreviewReport(ctx context.Context, id string) (*incident.Report, bool, error)
	RetryReport(ctx context.Context, id string) (*incident.Incident, error)
}

// Middleware wraps a route group, typically for authentication.
type Middleware func(http.Handler) http.Handler

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        IncidentService
	ingestAuth Middleware
	queryAuth  Middleware
	maxPayload int64
}

// Option configures an API.
type Option func(*API)

// WithIngestAuth protects POST /signals.
func WithIngestAuth(mw Middleware) Option {
	return func(a *API) { a.ingestAuth = mw }
}

// WithQueryAuth protects the incident and report routes.
func WithQueryAuth(mw Middleware) Option {
	return func(a *API) { a.queryAuth = mw }
}

// WithMaxPayload caps the size of an ingested payload in bytes.
func WithMaxPayload(n int64) Option {
	return func(a *API) { a.maxPayload = n }
}

const defaultMaxPayload = 1 << 20

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	a := &API{
		logger:     logger,
		svc:        svc,
		maxPayload: defaultMaxPayload,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.ingestAuth != nil {
				r.Use(a.ingestAuth)
			}
			r.Post("/signals", a.handleIngestSignal)
		})
		r.Group(func(r chi.Router) {
			if a.queryAuth != nil {
				r.Use(a.queryAuth)
			}
			r.Get("/incidents", a.handleListIncidents)
			r.Get("/incidents/{id}", a.handleGetIncident)
			r.Get("/incidents/{id}/report", a.handleGetReport)
			r.Post("/incidents/{id}/report", a.handleRetryReport)
		})
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, errorResponse{Error: msg, Reason: reason})
}
