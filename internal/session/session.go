// Package session is the per-connection record spec §3 defines,
// persisted under session:{privateId} through the shared storage.KV
// adapter. Both the room runtime and the transfer protocol operate on
// it, so it lives in its own package rather than under either.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roomfabric/engine/internal/storage"
)

// Session is the record spec §3 describes: privateId is the key (the
// caller's opaque secret); publicId is the broadcast-visible identity.
type Session struct {
	PublicID       string         `json:"publicId"`
	Created        time.Time      `json:"created"`
	Connected      bool           `json:"connected"`
	LastRoomID     string         `json:"lastRoomId,omitempty"`
	State          map[string]any `json:"state,omitempty"`
	TransferToken  string         `json:"transferToken,omitempty"`
	TransferExpiry time.Time      `json:"transferExpiry,omitempty"`
	TransferData   map[string]any `json:"transferData,omitempty"`
}

// Key returns the KV key a session is stored under.
func Key(privateID string) string { return "session:" + privateID }

// Load reads and decodes the session for privateID, returning
// storage.ErrNotFound if none exists.
func Load(ctx context.Context, kv storage.KV, privateID string) (*Session, error) {
	raw, err := kv.Get(ctx, Key(privateID))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", privateID, err)
	}
	return &s, nil
}

// Save writes s under privateID.
func Save(ctx context.Context, kv storage.KV, privateID string, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", privateID, err)
	}
	return kv.Put(ctx, Key(privateID), raw)
}

// Delete removes the session record for privateID.
func Delete(ctx context.Context, kv storage.KV, privateID string) error {
	return kv.Delete(ctx, Key(privateID))
}
