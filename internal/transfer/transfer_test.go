package transfer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/roomfabric/engine/internal/session"
	"github.com/roomfabric/engine/internal/storage"
)

func findByTokenOver(kv storage.KV, privateID string) func(ctx context.Context, token string) (string, *session.Session, error) {
	return func(ctx context.Context, token string) (string, *session.Session, error) {
		sess, err := session.Load(ctx, kv, privateID)
		if err != nil {
			return "", nil, nil
		}
		if sess.TransferToken != token {
			return "", nil, nil
		}
		return privateID, sess, nil
	}
}

func TestPrepareValidateCompleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()

	session.Save(ctx, kv, "priv1", &session.Session{
		PublicID:  "pub1",
		Created:   time.Now(),
		Connected: true,
		State:     map[string]any{"score": float64(3)},
	})

	token, err := Prepare(ctx, kv, "room-a", "priv1", "room-b", map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	validated, err := Validate(ctx, kv, token, "room-b", findByTokenOver(kv, "priv1"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if validated.PrivateID != "priv1" || validated.Session.PublicID != "pub1" {
		t.Fatalf("unexpected validated result: %+v", validated)
	}

	newSess, err := Complete(ctx, kv, "room-b", "priv1", validated)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !newSess.Connected || newSess.LastRoomID != "room-b" {
		t.Fatalf("unexpected session after complete: %+v", newSess)
	}
	if newSess.State["score"] != float64(3) {
		t.Fatalf("expected state to carry over, got %+v", newSess.State)
	}

	if _, err := kv.Get(ctx, recordKey(token)); err == nil {
		t.Fatal("expected transfer record to be deleted after completion")
	}
}

func TestValidateRejectsWrongTarget(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()
	session.Save(ctx, kv, "priv1", &session.Session{PublicID: "pub1"})

	token, err := Prepare(ctx, kv, "room-a", "priv1", "room-b", nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = Validate(ctx, kv, token, "room-c", findByTokenOver(kv, "priv1"))
	if err != ErrWrongTarget {
		t.Fatalf("err = %v, want ErrWrongTarget", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()
	session.Save(ctx, kv, "priv1", &session.Session{
		PublicID:       "pub1",
		TransferToken:  "stale-token",
		TransferExpiry: time.Now().Add(-time.Minute),
	})

	record := Record{SourceRoomID: "room-a", TargetRoomID: "room-b", Timestamp: time.Now()}
	raw, _ := json.Marshal(record)
	kv.Put(ctx, recordKey("stale-token"), raw)

	_, err := Validate(ctx, kv, "stale-token", "room-b", findByTokenOver(kv, "priv1"))
	if err != ErrTokenNotFound {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestPrepareReturnsErrNoSessionWhenMissing(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()

	_, err := Prepare(ctx, kv, "room-a", "missing-priv", "room-b", nil)
	if err != ErrNoSession {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestFindOwnerRejectsStaleReverseIndexEntry(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()

	session.Save(ctx, kv, "priv1", &session.Session{PublicID: "pub1"})

	token, err := Prepare(ctx, kv, "room-a", "priv1", "room-b", nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	privateID, sess, err := FindOwner(ctx, kv, token)
	if err != nil {
		t.Fatalf("FindOwner: %v", err)
	}
	if privateID != "priv1" || sess == nil {
		t.Fatalf("expected FindOwner to resolve the live token, got privateID=%q sess=%+v", privateID, sess)
	}

	// The session moves on to a new token (e.g. a later Prepare call
	// reusing the same private id) but the reverse index at
	// transfer_owner:{token} is never cleaned up, so it still points
	// at priv1's session.
	sess.TransferToken = "a-different-token"
	if err := session.Save(ctx, kv, "priv1", sess); err != nil {
		t.Fatalf("session.Save: %v", err)
	}

	privateID, sess, err = FindOwner(ctx, kv, token)
	if err != nil {
		t.Fatalf("FindOwner: %v", err)
	}
	if privateID != "" || sess != nil {
		t.Fatalf("expected FindOwner to reject the stale token, got privateID=%q sess=%+v", privateID, sess)
	}
}

func TestPrepareAndValidateRoomStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()

	token, err := PrepareRoomState(ctx, kv, "room-a", "room-b", map[string]any{"round": float64(3)})
	if err != nil {
		t.Fatalf("PrepareRoomState: %v", err)
	}

	record, err := ValidateRoomState(ctx, kv, token, "room-b")
	if err != nil {
		t.Fatalf("ValidateRoomState: %v", err)
	}
	if record.SourceRoomID != "room-a" || record.State["round"] != float64(3) {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := ConsumeRoomState(ctx, kv, token); err != nil {
		t.Fatalf("ConsumeRoomState: %v", err)
	}
	if _, err := ValidateRoomState(ctx, kv, token, "room-b"); err != ErrTokenNotFound {
		t.Fatalf("err = %v, want ErrTokenNotFound after consumption", err)
	}
}

func TestValidateRoomStateRejectsWrongTarget(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()

	token, err := PrepareRoomState(ctx, kv, "room-a", "room-b", nil)
	if err != nil {
		t.Fatalf("PrepareRoomState: %v", err)
	}

	if _, err := ValidateRoomState(ctx, kv, token, "room-c"); err != ErrWrongTarget {
		t.Fatalf("err = %v, want ErrWrongTarget", err)
	}
}
