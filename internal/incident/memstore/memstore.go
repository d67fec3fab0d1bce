// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/faultline/internal/incident"
)

var errTerminal = errors.New("incident is terminal")

// Store holds incidents in memory. Suitable for dev/testing.
//
// mu guards the maps only and is never held while a mutation closure runs.
// Read-modify-write is serialized by per-key locks: "key:" locks cover Open
// for a correlation key, "id:" locks cover writes to one incident. Open takes
// the key lock before the id lock; Update takes only the id lock.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> incident
	active    map[string]string             // correlation key -> non-terminal incident ID
	locks     keyedMutex
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		active:    make(map[string]string),
		locks:     keyedMutex{m: make(map[string]*refMutex)},
	}
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// List returns copies of matching incidents, newest first.
func (s *Store) List(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if f.Matches(inc) {
			out = append(out, inc.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Open merges into the active incident for key or creates a new one.
func (s *Store) Open(ctx context.Context, key string, create incident.CreateFunc, merge incident.MutateFunc) (*incident.Incident, bool, error) {
	unlockKey := s.locks.Lock("key:" + key)
	defer unlockKey()

	s.mu.RLock()
	id, ok := s.active[key]
	s.mu.RUnlock()

	if ok {
		inc, err := s.Update(ctx, id, func(inc *incident.Incident) error {
			if inc.State.Terminal() {
				return errTerminal
			}
			return merge(inc)
		})
		switch {
		case err == nil:
			return inc, false, nil
		case !errors.Is(err, errTerminal):
			return nil, false, err
		}
		// the incident closed between lookup and lock; open a fresh one.
	}

	inc, err := create()
	if err != nil {
		return nil, false, err
	}
	if inc.CorrelationKey != key {
		return nil, false, fmt.Errorf("memstore: created incident has key %q, want %q", inc.CorrelationKey, key)
	}
	if err := inc.Validate(); err != nil {
		return nil, false, fmt.Errorf("memstore: %w", err)
	}
	inc.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return nil, false, fmt.Errorf("memstore: incident %s already exists", inc.ID)
	}
	s.put(inc)
	return inc.Clone(), true, nil
}

// Update applies fn to a copy of the incident and stores the result if fn
// and validation succeed.
func (s *Store) Update(_ context.Context, id string, fn incident.MutateFunc) (*incident.Incident, error) {
	unlock := s.locks.Lock("id:" + id)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.incidents[id]
	var work *incident.Incident
	if ok {
		work = cur.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, incident.ErrNotFound
	}

	prevVersion, prevHistory := work.Version, len(work.History)
	if err := fn(work); err != nil {
		return nil, err
	}
	if len(work.History) < prevHistory {
		return nil, fmt.Errorf("memstore: incident %s: history is append-only", id)
	}
	if err := work.Validate(); err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	work.ID = id
	work.Version = prevVersion + 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incidents[id].Version != prevVersion {
		return nil, incident.ErrConflict
	}
	s.put(work)
	return work.Clone(), nil
}

// put stores inc and maintains the active index. Caller holds mu.
func (s *Store) put(inc *incident.Incident) {
	s.incidents[inc.ID] = inc
	if inc.State.Terminal() {
		if s.active[inc.CorrelationKey] == inc.ID {
			delete(s.active, inc.CorrelationKey)
		}
		return
	}
	s.active[inc.CorrelationKey] = inc.ID
}

