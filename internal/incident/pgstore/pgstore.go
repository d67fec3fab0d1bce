// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/faultline/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/faultline/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists incidents in PostgreSQL. The incident document lives in a
// JSONB column; history entries are rows of their own so they are only
// ever inserted.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const incidentColumns = `body, version`

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	inc, err := s.load(ctx, s.pool, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// List returns matching incidents, newest first.
func (s *Store) List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE ($1 = '' OR state = $1) AND ($2 = '' OR category = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		string(f.State), string(f.Category), limit,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			rows.Close()
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate incidents: %w", err))
	}

	if len(out) == 0 {
		return out, nil
	}
	if err := loadHistories(ctx, s.pool, out); err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// Open merges into the active incident for key or creates a new one. An
// advisory lock on the key serializes concurrent opens across processes.
func (s *Store) Open(ctx context.Context, key string, create incident.CreateFunc, merge incident.MutateFunc) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Open", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, false, fail(span, fmt.Errorf("lock key: %w", err))
	}

	cur, err := s.load(ctx, tx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE correlation_key = $1 AND state NOT IN ('closed', 'failed')
		 FOR UPDATE`, key)
	if err != nil {
		return nil, false, fail(span, err)
	}

	if cur != nil {
		next, err := apply(cur, merge)
		if err != nil {
			return nil, false, fail(span, err)
		}
		if err := writeUpdate(ctx, tx, cur, next); err != nil {
			return nil, false, fail(span, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fail(span, fmt.Errorf("commit: %w", err))
		}
		span.SetAttributes(attribute.Bool("incident.merged", true))
		return next, false, nil
	}

	inc, err := create()
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc.CorrelationKey != key {
		return nil, false, fail(span, fmt.Errorf("created incident has key %q, want %q", inc.CorrelationKey, key))
	}
	if err := inc.Validate(); err != nil {
		return nil, false, fail(span, err)
	}
	inc.Version = 1

	body, err := encode(inc)
	if err != nil {
		return nil, false, fail(span, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (id, correlation_key, state, category, priority, version, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inc.ID, inc.CorrelationKey, string(inc.State), string(inc.Category), string(inc.Priority),
		inc.Version, body, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("insert incident: %w", err))
	}
	if err := insertHistory(ctx, tx, inc.ID, inc.History, 0); err != nil {
		return nil, false, fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fail(span, fmt.Errorf("commit: %w", err))
	}
	return inc, true, nil
}

// Update applies fn to the incident under a row lock and commits the result
// together with the new history rows.
func (s *Store) Update(ctx context.Context, id string, fn incident.MutateFunc) (*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	cur, err := s.load(ctx, tx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if cur == nil {
		return nil, incident.ErrNotFound
	}

	next, err := apply(cur, fn)
	if err != nil {
		return nil, fail(span, err)
	}
	if err := writeUpdate(ctx, tx, cur, next); err != nil {
		return nil, fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fail(span, fmt.Errorf("commit: %w", err))
	}
	return next, nil
}

// apply runs fn on a copy of cur and checks the result.
func apply(cur *incident.Incident, fn incident.MutateFunc) (*incident.Incident, error) {
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if len(next.History) < len(cur.History) {
		return nil, fmt.Errorf("incident %s: history is append-only", cur.ID)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CorrelationKey = cur.CorrelationKey
	next.Version = cur.Version + 1
	return next, nil
}

func writeUpdate(ctx context.Context, tx pgx.Tx, cur, next *incident.Incident) error {
	body, err := encode(next)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE incidents
		 SET state = $2, category = $3, priority = $4, version = $5, body = $6, updated_at = $7
		 WHERE id = $1 AND version = $8`,
		next.ID, string(next.State), string(next.Category), string(next.Priority),
		next.Version, body, next.UpdatedAt, cur.Version,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return incident.ErrConflict
	}
	return insertHistory(ctx, tx, next.ID, next.History[len(cur.History):], len(cur.History))
}

func insertHistory(ctx context.Context, q querier, id string, entries []incident.HistoryEntry, seq int) error {
	for i, h := range entries {
		_, err := q.Exec(ctx,
			`INSERT INTO incident_history (incident_id, seq, at, from_state, to_state, actor, event, note)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, seq+i, h.At, string(h.From), string(h.To), h.Actor, string(h.Event), h.Note,
		)
		if err != nil {
			return fmt.Errorf("insert history %s seq %d: %w", id, seq+i, err)
		}
	}
	return nil
}

// load reads one incident with its history. Returns (nil, nil) when no
// row matches.
func (s *Store) load(ctx context.Context, q querier, query string, args ...any) (*incident.Incident, error) {
	inc, err := scanIncident(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := loadHistories(ctx, q, []*incident.Incident{inc}); err != nil {
		return nil, err
	}
	return inc, nil
}

func loadHistories(ctx context.Context, q querier, incs []*incident.Incident) error {
	byID := make(map[string]*incident.Incident, len(incs))
	ids := make([]string, 0, len(incs))
	for _, inc := range incs {
		byID[inc.ID] = inc
		ids = append(ids, inc.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT incident_id, at, from_state, to_state, actor, event, note
		 FROM incident_history WHERE incident_id = ANY($1) ORDER BY incident_id, seq`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       string
			h        incident.HistoryEntry
			from, to string
			event    string
		)
		if err := rows.Scan(&id, &h.At, &from, &to, &h.Actor, &event, &h.Note); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		h.At = h.At.UTC()
		h.From, h.To, h.Event = incident.State(from), incident.State(to), incident.EventKind(event)
		if inc, ok := byID[id]; ok {
			inc.History = append(inc.History, h)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate history: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		body    []byte
		version int
	)
	if err := row.Scan(&body, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	var inc incident.Incident
	if err := json.Unmarshal(body, &inc); err != nil {
		return nil, fmt.Errorf("unmarshal incident: %w", err)
	}
	inc.Version = version
	inc.History = nil
	return &inc, nil
}

// encode serializes inc without its history, which is stored as rows.
func encode(inc *incident.Incident) ([]byte, error) {
	doc := *inc
	doc.History = nil
	b, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal incident %s: %w", inc.ID, err)
	}
	return b, nil
}
