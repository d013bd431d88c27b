// Package transfer implements the session-transfer protocol (spec
// §4.4): one-shot tokens that hand a session off from one room to
// another while preserving its user state. Both sides store through
// the same storage.KV adapter every other component uses.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roomfabric/engine/internal/session"
	"github.com/roomfabric/engine/internal/storage"
)

// Expiry is how long a transfer token remains valid (spec §5).
const Expiry = 5 * time.Minute

// tokenBytes gives >= 64 bits of entropy per spec §4.4 step 2; no
// secret is required since the transfer record itself is the
// authority, not the token's unguessability alone.
const tokenBytes = 16

var (
	// ErrNoSession is returned by Prepare when privateID has no session.
	ErrNoSession = errors.New("transfer: no session for private id")
	// ErrTokenNotFound is returned by Validate when the token is unknown or expired.
	ErrTokenNotFound = errors.New("transfer: token not found or expired")
	// ErrWrongTarget is returned by Validate when the token was minted for a different room.
	ErrWrongTarget = errors.New("transfer: token not valid for this room")
)

// Record is the metadata stored at transfer:{token} (spec §3
// "TransferMetadata").
type Record struct {
	SourceRoomID string    `json:"sourceRoomId"`
	TargetRoomID string    `json:"targetRoomId"`
	Timestamp    time.Time `json:"timestamp"`
	TransferID   string    `json:"transferId"`
}

func recordKey(token string) string { return "transfer:" + token }

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("transfer: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Prepare implements the source-room side of spec §4.4: mint a token,
// stamp the session with its expiry and transfer data, and record the
// transfer's source/target pair.
func Prepare(ctx context.Context, kv storage.KV, sourceRoomID, privateID, targetRoomID string, transferData map[string]any) (string, error) {
	sess, err := session.Load(ctx, kv, privateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNoSession
		}
		return "", err
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	sess.TransferToken = token
	sess.TransferExpiry = time.Now().Add(Expiry)
	sess.TransferData = transferData
	sess.LastRoomID = sourceRoomID
	if err := session.Save(ctx, kv, privateID, sess); err != nil {
		return "", err
	}

	record := Record{
		SourceRoomID: sourceRoomID,
		TargetRoomID: targetRoomID,
		Timestamp:    time.Now(),
		TransferID:   token,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("transfer: encoding record: %w", err)
	}
	if err := kv.Put(ctx, recordKey(token), raw); err != nil {
		return "", err
	}
	if err := kv.Put(ctx, ownerKey(token), []byte(privateID)); err != nil {
		return "", err
	}
	return token, nil
}

func ownerKey(token string) string { return "transfer_owner:" + token }

// FindOwner is the reverse index spec §4.4 step 3 allows implementers
// to keep: given a token, return the privateId and current session of
// the caller who prepared it, without scanning every session. The
// reverse index entry alone isn't authoritative — it is never cleaned
// up on consumption or expiry, so it can still point at a session
// whose TransferToken has since moved on. The session's own
// TransferToken field is the source of truth; a mismatch means the
// token is stale and the lookup reports no owner, exactly as if the
// index entry were absent.
func FindOwner(ctx context.Context, kv storage.KV, token string) (privateID string, sess *session.Session, err error) {
	raw, err := kv.Get(ctx, ownerKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, err
	}
	privateID = string(raw)
	sess, err = session.Load(ctx, kv, privateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if sess.TransferToken != token {
		return "", nil, nil
	}
	return privateID, sess, nil
}

// Validated carries what the target room needs to adopt the session.
type Validated struct {
	PrivateID    string
	Session      *session.Session
	SourceRoomID string
}

// Validate implements the target-room side of spec §4.4: look up the
// transfer record, confirm it targets this room, find the owning
// session by its reverse index, and reject an expired transfer
// (cleaning it up on the way out).
//
// findByToken is the caller-supplied reverse lookup (spec §4.4 step 3
// allows "implementers may keep a reverse index"); rooms own their
// session namespace, so the index lives with whoever calls Validate.
func Validate(ctx context.Context, kv storage.KV, token, expectedTargetRoomID string, findByToken func(ctx context.Context, token string) (privateID string, sess *session.Session, err error)) (*Validated, error) {
	raw, err := kv.Get(ctx, recordKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("transfer: decoding record: %w", err)
	}
	if record.TargetRoomID != expectedTargetRoomID {
		return nil, ErrWrongTarget
	}

	privateID, sess, err := findByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrTokenNotFound
	}

	if time.Now().After(sess.TransferExpiry) {
		_ = kv.Delete(ctx, recordKey(token))
		sess.TransferToken = ""
		sess.TransferExpiry = time.Time{}
		_ = session.Save(ctx, kv, privateID, sess)
		return nil, ErrTokenNotFound
	}

	return &Validated{PrivateID: privateID, Session: sess, SourceRoomID: record.SourceRoomID}, nil
}

// RoomStateRecord is the payload stored for a room-to-room state
// handoff (spec §6.2 `POST /transfer-room-state`). Unlike a
// user-session transfer there is no owning session to stamp — the
// token's record is the only thing the target room reads.
type RoomStateRecord struct {
	SourceRoomID string         `json:"sourceRoomId"`
	TargetRoomID string         `json:"targetRoomId"`
	State        map[string]any `json:"state"`
	Timestamp    time.Time      `json:"timestamp"`
}

func roomStateKey(token string) string { return "transfer_room_state:" + token }

// PrepareRoomState mints a token for a room-to-room state handoff
// (spec §6.2 `POST /transfer-room-state`): no session is involved, so
// unlike Prepare there is no privateId to stamp or index.
func PrepareRoomState(ctx context.Context, kv storage.KV, sourceRoomID, targetRoomID string, state map[string]any) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	record := RoomStateRecord{
		SourceRoomID: sourceRoomID,
		TargetRoomID: targetRoomID,
		State:        state,
		Timestamp:    time.Now(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("transfer: encoding room state record: %w", err)
	}
	if err := kv.Put(ctx, roomStateKey(token), raw); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateRoomState looks up a room-state handoff token and confirms
// it targets this room, mirroring Validate's target check for
// per-session transfers. There is no separate expiry timestamp on a
// room-state record — it is one-shot via ConsumeRoomState, so a
// stale, already-consumed token simply reports ErrTokenNotFound.
func ValidateRoomState(ctx context.Context, kv storage.KV, token, expectedTargetRoomID string) (*RoomStateRecord, error) {
	raw, err := kv.Get(ctx, roomStateKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	var record RoomStateRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("transfer: decoding room state record: %w", err)
	}
	if record.TargetRoomID != expectedTargetRoomID {
		return nil, ErrWrongTarget
	}
	return &record, nil
}

// ConsumeRoomState deletes a room-state handoff record once the
// target room has adopted it, making the token one-shot like a
// per-session transfer token.
func ConsumeRoomState(ctx context.Context, kv storage.KV, token string) error {
	return kv.Delete(ctx, roomStateKey(token))
}

// Complete implements spec §4.4's completion step: write the adopted
// session at the target room, clear transfer bookkeeping, and tear
// down the transfer record (plus any residual source-side marker).
func Complete(ctx context.Context, kv storage.KV, targetRoomID, privateID string, v *Validated) (*session.Session, error) {
	newSess := &session.Session{
		PublicID:     v.Session.PublicID,
		Created:      v.Session.Created,
		Connected:    true,
		LastRoomID:   targetRoomID,
		State:        v.Session.State,
		TransferData: v.Session.TransferData,
	}
	if err := session.Save(ctx, kv, privateID, newSess); err != nil {
		return nil, err
	}
	if err := kv.Delete(ctx, recordKey(v.Session.TransferToken)); err != nil {
		return nil, err
	}
	return newSess, nil
}
