// Package store defines the shared-state backend contract used by session
// clients: one-shot reads, value subscriptions, optimistic transactions,
// merge writes and keyed pushes on slash-separated paths.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrClosed         = errors.New("store closed")
	ErrTooManyRetries = errors.New("transaction retries exhausted")
	ErrInvalidPath    = errors.New("invalid path")
)

// DefaultMaxAttempts bounds how many times a transaction re-runs its update
// function after losing a race.
const DefaultMaxAttempts = 25

// UpdateFunc computes the value to commit from the current value at a path.
// current is nil when nothing is stored there. Returning abort leaves the
// value untouched and the transaction reports committed=false. The function
// may run several times and must not have side effects.
type UpdateFunc func(current json.RawMessage) (proposed any, abort bool, err error)

// Subscription is a stream of values observed at one path. The first event is
// the value at subscribe time; later events arrive once per change. Events is
// closed after Close, after the subscribing context ends or when the store
// shuts down. Closing is terminal.
type Subscription interface {
	Path() string
	Events() <-chan json.RawMessage
	Close()
}

type Store interface {
	// Read returns the value at path, or nil when absent.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	Subscribe(ctx context.Context, path string) (Subscription, error)

	// Transact runs fn against the current value and commits its result only
	// if the path was not modified in between, retrying fn otherwise.
	Transact(ctx context.Context, path string, fn UpdateFunc) (committed bool, final json.RawMessage, err error)

	// Write merges fields into the object at path. Keys may contain slashes to
	// address nested children. Last writer wins per field.
	Write(ctx context.Context, path string, fields map[string]any) error

	// Push stores value under a new time-ordered key below collection.
	Push(ctx context.Context, collection string, value any) (string, error)

	Close() error
}
