package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/faultline/internal/signal"
)

// signalRequest is the JSON webhook body.
type signalRequest struct {
	LogContent string `json:"log_content"`
}

func (a *API) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, status, msg := a.readPayload(r)
	if status != 0 {
		writeError(w, status, msg, "")
		return
	}

	res, err := a.svc.Submit(ctx, raw)
	if err != nil {
		var pf *signal.ParseFailure
		if errors.As(err, &pf) || errors.Is(err, signal.ErrNotLogPayload) {
			reason := err.Error()
			if pf != nil {
				reason = pf.Reason
			}
			writeError(w, http.StatusUnprocessableEntity, "not a log payload", reason)
			return
		}
		a.logger.Error(ctx, err, "failed to submit signal")
		writeError(w, http.StatusServiceUnavailable, "incident store unavailable", "")
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("faultline.incident.id", res.ID),
		attribute.Bool("faultline.incident.merged", res.Merged),
		attribute.String("faultline.incident.category", string(res.Category)),
	)
	writeJSON(w, http.StatusAccepted, res)
}

// readPayload extracts the raw log text. JSON bodies carry it in
// log_content; any other content type is taken verbatim.
func (a *API) readPayload(r *http.Request) (string, int, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxPayload+1))
	if err != nil {
		return "", http.StatusBadRequest, "failed to read body"
	}
	if int64(len(body)) > a.maxPayload {
		return "", http.StatusRequestEntityTooLarge, "payload too large"
	}

	raw := string(body)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req signalRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", http.StatusBadRequest, "invalid payload"
		}
		raw = req.LogContent
	}
	return raw, 0, ""
}
