package main

import (
	"github.com/roomfabric/engine/internal/signal"
	"github.com/roomfabric/engine/internal/statesync"
)

// chatUser is the reference entity this binary hosts: a name and a
// score, matching the counter-and-users scenario (scalar fields that
// sync and persist, a connected flag that only syncs).
type chatUser struct {
	publicID  string
	name      *signal.Scalar[string]
	score     *signal.Scalar[int]
	connected *signal.Scalar[bool]
}

func newChatUser(publicID string) *chatUser {
	return &chatUser{
		publicID:  publicID,
		name:      signal.NewScalar(""),
		score:     signal.NewScalar(0),
		connected: signal.NewScalarWithOptions(true, signal.Options{SyncToClient: true, Persist: false}),
	}
}

func (u *chatUser) PublicID() string { return u.publicID }

func (u *chatUser) SetConnected(v bool) { u.connected.Set(v) }

func (u *chatUser) Snapshot() map[string]any {
	return map[string]any{"name": u.name.Get(), "score": u.score.Get()}
}

func (u *chatUser) Restore(state map[string]any) {
	if name, ok := state["name"].(string); ok {
		u.name.Set(name)
	}
	if score, ok := state["score"].(float64); ok {
		u.score.Set(int(score))
	} else if score, ok := state["score"].(int); ok {
		u.score.Set(score)
	}
}

// Bind implements statesync.Entity: wire this user's own scalar
// fields under its map entry path (e.g. "users.pub123").
func (u *chatUser) Bind(e *statesync.Engine, path string) func() {
	unbindName := statesync.BindScalar(e, path+".name", u.name)
	unbindScore := statesync.BindScalar(e, path+".score", u.score)
	unbindConnected := statesync.BindScalar(e, path+".connected", u.connected)
	return func() {
		unbindName()
		unbindScore()
		unbindConnected()
	}
}
