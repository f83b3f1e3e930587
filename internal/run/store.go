package run

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// Store is the contract for durable run persistence.
//
// Implementations only need single-record upsert semantics. Ids are assigned by
// Create and must never be reused. Listing methods return runs ordered by
// creation time, newest first.
type Store interface {
	// Create persists a new run and returns its assigned id.
	Create(ctx context.Context, r *Run) (string, error)

	// Get returns the run with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Run, error)

	// Update overwrites the mutable fields of an existing run.
	// Returns ErrNotFound if the run does not exist.
	Update(ctx context.Context, r *Run) error

	// ListByState returns all runs currently in state s.
	ListByState(ctx context.Context, s State) ([]*Run, error)

	// ListByDateRange returns runs whose StartedAt lies within [from, to].
	ListByDateRange(ctx context.Context, from, to time.Time) ([]*Run, error)

	// ListByModelName returns all runs of the named model.
	ListByModelName(ctx context.Context, name string) ([]*Run, error)

	// List returns up to limit runs. A limit of zero or less means no limit.
	List(ctx context.Context, limit int) ([]*Run, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
