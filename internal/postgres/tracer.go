package postgres

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Incident queries are issued both from API requests and from lifecycle
// goroutines that outlive them, so a query is attributed by walking the
// call stack rather than by request context.
const (
	storePkg   = "github.com/linnemanlabs/faultline/internal/incident/pgstore."
	servicePkg = "github.com/linnemanlabs/faultline/internal/incident."

	// OriginLifecycle labels queries issued by the asynchronous lifecycle.
	OriginLifecycle = "lifecycle"
	// OriginDirect labels queries issued outside the incident service,
	// such as schema setup at startup.
	OriginDirect = "direct"
	// OpOther labels queries not issued by a store method.
	OpOther = "other"
)

// maxLoggedArgLen caps logged string and byte arguments; incident bodies are
// whole JSON documents.
const maxLoggedArgLen = 256

// QueryObserver receives per-query measurements (wired by main for Prometheus).
// op is the store method (Open, Update, Get, List), origin the service entry
// point that led to it.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, op, origin, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, op, origin, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, op, origin, outcome string, dur time.Duration) {
	f(ctx, op, origin, outcome, dur)
}

type observerHolder struct{ QueryObserver }

var (
	queryObserver      atomic.Pointer[observerHolder]
	slowQueryThreshold atomic.Int64
)

// SetQueryObserver sets the process-wide query observer. nil disables it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

// SetSlowQueryThreshold sets the duration below which successful queries are
// not logged. 0 logs every query; failed queries are always logged.
func SetSlowQueryThreshold(d time.Duration) {
	slowQueryThreshold.Store(int64(d))
}

func observer() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// queryAttribution says which store operation ran a query and on whose behalf.
type queryAttribution struct {
	op     string
	origin string
	caller string
}

type queryState struct {
	sql   string
	args  []any
	start time.Time
	attr  queryAttribution
}

type queryStateKey struct{}

// storeTracer wraps another pgx.QueryTracer (otelpgx) with attribution,
// structured query logs and the metrics hook.
type storeTracer struct {
	inner pgx.QueryTracer
}

func newQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return storeTracer{inner: inner}
}

func (t storeTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryState{
		sql:   data.SQL,
		args:  data.Args,
		start: time.Now(),
		attr:  attributeQuery(),
	}

	// inner tracer opens the db span
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("faultline.store.op", qs.attr.op),
			attribute.String("faultline.store.origin", qs.attr.origin),
		)
		if qs.attr.caller != "" {
			span.SetAttributes(attribute.String("db.caller", qs.attr.caller))
		}
	}

	return context.WithValue(ctx, queryStateKey{}, qs)
}

func (t storeTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		return
	}
	dur := time.Since(qs.start)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := observer(); obs != nil {
		obs.ObserveQuery(ctx, qs.attr.op, qs.attr.origin, outcome, dur)
	}

	if threshold := time.Duration(slowQueryThreshold.Load()); threshold > 0 && dur < threshold && data.Err == nil {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.args", logArgs(qs.args),
		"db.duration", dur.Seconds(),
		"store.op", qs.attr.op,
		"store.origin", qs.attr.origin,
	}
	if qs.attr.caller != "" {
		fields = append(fields, "db.caller", qs.attr.caller)
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}

	L := log.FromContext(ctx)
	if data.Err == nil {
		L.Info(ctx, "db query", fields...)
		return
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}
	L.Error(ctx, data.Err, "db query failed", fields...)
}

// attributeQuery walks the caller's stack. The innermost pgstore frame names
// the operation; the outermost incident.Service frame names the origin, except
// that anything under runLifecycle is OriginLifecycle.
func attributeQuery() queryAttribution {
	a := queryAttribution{op: OpOther, origin: OriginDirect}
	lifecycle := false

	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		switch {
		case fn == "" || isTracingNoise(fn):
		case strings.HasPrefix(fn, storePkg):
			if a.op == OpOther {
				a.op = methodName(fn)
			}
		case strings.HasPrefix(fn, servicePkg) && strings.Contains(fn, "(*Service)."):
			// keep overwriting: the outermost frame wins
			a.origin = methodName(fn)
			if a.origin == "runLifecycle" {
				lifecycle = true
			}
		}
		if a.caller == "" && fn != "" && !isTracingNoise(fn) {
			a.caller = shortenFuncName(fn)
		}

		if !more {
			break
		}
	}

	// the lifecycle goroutine is started from a Submit closure
	if lifecycle {
		a.origin = OriginLifecycle
	}
	return a
}

func isTracingNoise(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/jackc/puddle") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "internal/postgres.")
}

// methodName reduces a qualified function name to its method, dropping
// closure suffixes: "pkg.(*Store).Open.func1" -> "Open".
func methodName(fn string) string {
	fn = shortenFuncName(fn)
	parts := strings.Split(fn, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" || strings.HasPrefix(p, "func") || strings.HasPrefix(p, "gowrap") || isDigits(p) {
			continue
		}
		return p
	}
	return fn
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// logArgs returns args with long strings and byte slices shortened.
func logArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = clip(v)
		case []byte:
			out[i] = clip(string(v))
		default:
			out[i] = a
		}
	}
	return out
}

func clip(s string) string {
	if len(s) <= maxLoggedArgLen {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:maxLoggedArgLen], len(s))
}

// shortenFuncName drops the import path and package name, keeping the
// receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
