package room

import "github.com/roomfabric/engine/internal/statesync"

// User is a room's per-connection entity (spec §3 "Decorated Entity",
// the `@users` collection). Concrete user types are supplied by the
// application embedding this engine; Bind wires their own signal
// fields into the sync/persist caches the way any nested entity does,
// and Snapshot/Restore carry scalar state across disconnect/reconnect
// and session transfer (spec §4.3.1/§4.3.4/§4.4).
type User interface {
	statesync.Entity

	// PublicID returns the broadcast-visible identity this user was
	// instantiated under.
	PublicID() string

	// SetConnected updates the liveness signal spec §3 calls out as
	// the `connected` role.
	SetConnected(v bool)

	// Snapshot returns the user's scalar leaf values, suitable for
	// persisting as a session's `state` and for restoring later.
	Snapshot() map[string]any

	// Restore populates the user's fields from a prior Snapshot,
	// called before onJoin fires for a reconnect or a transferred
	// session (spec §4.4 "state restoration").
	Restore(state map[string]any)
}

// UserFactory instantiates a new User under publicID. It is the
// static stand-in for the source's `@users` class-type metadata: the
// caller supplies the concrete type once at Server construction
// instead of the engine discovering it via reflection.
type UserFactory func(publicID string) User
