package alertapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/faultline/internal/incident"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("faultline.incident.id", id))

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}

	span.SetAttributes(attribute.String("faultline.incident.state", string(inc.State)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	f, msg := parseFilter(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid query", msg)
		return
	}

	incs, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if incs == nil {
		incs = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incs, "count": len(incs)})
}

func parseFilter(r *http.Request) (incident.Filter, string) {
	q := r.URL.Query()
	f := incident.Filter{Limit: defaultListLimit}

	if v := q.Get("state"); v != "" {
		s, err := incident.ParseState(v)
		if err != nil {
			return f, err.Error()
		}
		f.State = s
	}
	if v := q.Get("category"); v != "" {
		c, err := incident.ParseCategory(v)
		if err != nil {
			return f, err.Error()
		}
		f.Category = c
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return f, "limit must be 1.." + strconv.Itoa(maxListLimit)
		}
		f.Limit = n
	}
	return f, ""
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("faultline.incident.id", id))

	report, ok, err := a.svc.PreviewReport(r.Context(), id)
	if err != nil {
		var rbe *incident.ReportBuildError
		if errors.As(err, &rbe) {
			writeError(w, http.StatusConflict, "report not available", rbe.Reason)
			return
		}
		a.logger.Error(r.Context(), err, "failed to build report", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}

	if wantsMarkdown(r) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(incident.RenderMarkdown(report))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleRetryReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("faultline.incident.id", id))

	inc, err := a.svc.RetryReport(r.Context(), id)
	if err != nil {
		var rbe *incident.ReportBuildError
		switch {
		case errors.Is(err, incident.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found", "")
		case errors.Is(err, incident.ErrNotReportPending):
			writeError(w, http.StatusConflict, "incident is not awaiting a report", err.Error())
		case errors.As(err, &rbe):
			writeError(w, http.StatusConflict, "report not available", rbe.Reason)
		default:
			a.logger.Error(r.Context(), err, "failed to retry report", "id", id)
			writeError(w, http.StatusInternalServerError, "internal error", "")
		}
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func wantsMarkdown(r *http.Request) bool {
	if r.URL.Query().Get("format") == "markdown" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/markdown")
}
