package room

import (
	"context"
	"encoding/json"

	"github.com/roomfabric/engine/internal/transport"
)

// UserContext is handed to every guard, validator, and handler
// invocation — the closure-captured arguments spec §4.3.2 describes
// as `(user, value, conn)`.
type UserContext struct {
	Room      *Server
	User      User
	Conn      transport.Conn
	PrivateID string
	PublicID  string
}

// Guard is a boolean precondition evaluated in declaration order; the
// first false result aborts dispatch (spec §4.3.1 step 1, §4.3.2 step
// 2/4). Value is nil for connect-time room guards.
type Guard func(uc *UserContext, value json.RawMessage) bool

// Validator checks a raw JSON payload's shape before a handler runs
// (spec §4.3.2 step 5, §4.3.3 "body validation").
type Validator func(value json.RawMessage) error

// ActionHandler implements one action's effect (spec §4.3.2 step 6).
// Mutations performed here flow into the sync/persist pipeline
// automatically through whatever signals the handler touches.
type ActionHandler func(ctx context.Context, uc *UserContext, value json.RawMessage) error

// Action is one named entry in a room's action dispatch table.
type Action struct {
	Guards  []Guard
	Schema  Validator
	Handler ActionHandler
}

// ActionRegistry is the static, explicit replacement for the source's
// decorator-discovered action metadata (spec §9 "Dynamic dispatch of
// actions").
type ActionRegistry struct {
	actions map[string]Action
}

// NewActionRegistry returns an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]Action)}
}

// Register adds or replaces the action named name.
func (r *ActionRegistry) Register(name string, a Action) *ActionRegistry {
	r.actions[name] = a
	return r
}

// Lookup returns the action named name, if any.
func (r *ActionRegistry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}
