package incident

import "context"

// MutateFunc changes an incident in place. Returning an error aborts the
// write and leaves the stored version untouched.
type MutateFunc func(inc *Incident) error

// CreateFunc builds a new incident when Open finds no active one.
type CreateFunc func() (*Incident, error)

// Store is the persistence interface for incidents. Implementations
// serialize read-modify-write per incident and per correlation key, run
// Validate before committing, bump Version on every write and return
// copies to callers.
type Store interface {
	Get(ctx context.Context, id string) (*Incident, bool, error)
	List(ctx context.Context, f Filter) ([]*Incident, error)

	// Open merges into the non-terminal incident holding key, or creates
	// one. The lookup and the write are atomic with respect to other Open
	// calls for the same key.
	Open(ctx context.Context, key string, create CreateFunc, merge MutateFunc) (inc *Incident, created bool, err error)

	// Update applies fn to the current version of incident id. History and
	// state are written in the same atomic step.
	Update(ctx context.Context, id string, fn MutateFunc) (*Incident, error)
}
