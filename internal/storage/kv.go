// Package storage defines the persistence adapter used by every room,
// the World registry, and the transfer protocol: a plain key/value
// store behind one interface, with concrete Redis and Postgres
// implementations and an in-memory one for tests.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the persistence adapter spec §4.2/§4.5 route all durable state
// through: room leaf values, session records, transfer metadata, and
// the World registry's room/shard catalogs.
type KV interface {
	// Get returns the raw bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes value at key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
