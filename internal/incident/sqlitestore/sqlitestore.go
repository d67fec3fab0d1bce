// Package sqlitestore provides a single-node SQLite implementation of
// incident.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linnemanlabs/faultline/internal/incident"
)

//go:embed schema.sql
var schemaSQL string

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store keeps incidents in a SQLite file.
//
// The pool is limited to one connection, so every transaction is the only
// writer and Open/Update are serialized without extra locking.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	inc, err := load(ctx, s.db, `SELECT body, version FROM incidents WHERE id = ?`, id)
	if err != nil || inc == nil {
		return nil, false, err
	}
	return inc, true, nil
}

// List returns matching incidents, newest first.
func (s *Store) List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	query := `SELECT body, version FROM incidents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	rows.Close()

	for _, inc := range out {
		if err := loadHistory(ctx, s.db, inc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Open merges into the active incident for key or creates a new one.
func (s *Store) Open(ctx context.Context, key string, create incident.CreateFunc, merge incident.MutateFunc) (*incident.Incident, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	cur, err := load(ctx, tx,
		`SELECT body, version FROM incidents WHERE correlation_key = ? AND state NOT IN ('closed', 'failed')`, key)
	if err != nil {
		return nil, false, err
	}

	if cur != nil {
		next, err := apply(cur, merge)
		if err != nil {
			return nil, false, err
		}
		if err := writeUpdate(ctx, tx, cur, next); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return next, false, nil
	}

	inc, err := create()
	if err != nil {
		return nil, false, err
	}
	if inc.CorrelationKey != key {
		return nil, false, fmt.Errorf("created incident has key %q, want %q", inc.CorrelationKey, key)
	}
	if err := inc.Validate(); err != nil {
		return nil, false, err
	}
	inc.Version = 1

	body, err := encode(inc)
	if err != nil {
		return nil, false, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (id, correlation_key, state, category, priority, version, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.CorrelationKey, string(inc.State), string(inc.Category), string(inc.Priority),
		inc.Version, body, inc.CreatedAt.UnixNano(), inc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert incident: %w", err)
	}
	if err := insertHistory(ctx, tx, inc.ID, inc.History, 0); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return inc, true, nil
}

// Update applies fn to the stored incident and commits the result.
func (s *Store) Update(ctx context.Context, id string, fn incident.MutateFunc) (*incident.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	cur, err := load(ctx, tx, `SELECT body, version FROM incidents WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, incident.ErrNotFound
	}

	next, err := apply(cur, fn)
	if err != nil {
		return nil, err
	}
	if err := writeUpdate(ctx, tx, cur, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

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

func writeUpdate(ctx context.Context, tx *sql.Tx, cur, next *incident.Incident) error {
	body, err := encode(next)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE incidents
		 SET state = ?, category = ?, priority = ?, version = ?, body = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(next.State), string(next.Category), string(next.Priority),
		next.Version, body, next.UpdatedAt.UnixNano(), next.ID, cur.Version,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return incident.ErrConflict
	}
	return insertHistory(ctx, tx, next.ID, next.History[len(cur.History):], len(cur.History))
}

func insertHistory(ctx context.Context, q queryer, id string, entries []incident.HistoryEntry, seq int) error {
	for i, h := range entries {
		_, err := q.ExecContext(ctx,
			`INSERT INTO incident_history (incident_id, seq, at, from_state, to_state, actor, event, note)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, seq+i, h.At.UnixNano(), string(h.From), string(h.To), h.Actor, string(h.Event), h.Note,
		)
		if err != nil {
			return fmt.Errorf("insert history %s seq %d: %w", id, seq+i, err)
		}
	}
	return nil
}

func load(ctx context.Context, q queryer, query string, args ...any) (*incident.Incident, error) {
	inc, err := scanIncident(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := loadHistory(ctx, q, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

func loadHistory(ctx context.Context, q queryer, inc *incident.Incident) error {
	rows, err := q.QueryContext(ctx,
		`SELECT at, from_state, to_state, actor, event, note
		 FROM incident_history WHERE incident_id = ? ORDER BY seq`, inc.ID)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			at              int64
			from, to, event string
			h               incident.HistoryEntry
		)
		if err := rows.Scan(&at, &from, &to, &h.Actor, &event, &h.Note); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		h.At = time.Unix(0, at).UTC()
		h.From, h.To, h.Event = incident.State(from), incident.State(to), incident.EventKind(event)
		inc.History = append(inc.History, h)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (*incident.Incident, error) {
	var (
		body    string
		version int
	)
	if err := row.Scan(&body, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	var inc incident.Incident
	if err := json.Unmarshal([]byte(body), &inc); err != nil {
		return nil, fmt.Errorf("unmarshal incident: %w", err)
	}
	inc.Version = version
	inc.History = nil
	return &inc, nil
}

func encode(inc *incident.Incident) (string, error) {
	doc := *inc
	doc.History = nil
	b, err := json.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal incident %s: %w", inc.ID, err)
	}
	return string(b), nil
}
