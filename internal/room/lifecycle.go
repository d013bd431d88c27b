package room

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/roomfabric/engine/internal/session"
	"github.com/roomfabric/engine/internal/statesync"
	"github.com/roomfabric/engine/internal/storage"
	"github.com/roomfabric/engine/internal/transfer"
	"github.com/roomfabric/engine/internal/transport"
)

// ConnectRequest carries what the accept path needs before a user
// entity exists (spec §4.3.1).
type ConnectRequest struct {
	Conn          transport.Conn
	PrivateID     string
	TransferToken string
}

// ErrGuardRejected is returned by Connect when a room guard fails;
// callers must close conn on this error (spec §7 "close the
// connection on room guards").
var ErrGuardRejected = errors.New("room: connect rejected by guard")

// Connect implements spec §4.3.1: evaluate room guards, resolve the
// session (adopting a transfer if a token was presented, otherwise
// loading or creating one for privateId), instantiate the user entity,
// restore its prior scalar state, and send the joining client its
// first full-tree sync.
func (s *Server) Connect(ctx context.Context, req ConnectRequest) error {
	var resultErr error
	s.post(func() {
		uc := &UserContext{Room: s, Conn: req.Conn, PrivateID: req.PrivateID}
		for _, g := range s.guards {
			if !g(uc, nil) {
				resultErr = ErrGuardRejected
				return
			}
		}

		privateID := req.PrivateID
		var sess *session.Session
		var sourceRoomID string

		if req.TransferToken != "" {
			v, err := transfer.Validate(ctx, s.kv, req.TransferToken, s.id, transfer.FindOwner)
			if err != nil {
				resultErr = err
				return
			}
			completed, err := transfer.Complete(ctx, s.kv, s.id, v.PrivateID, v)
			if err != nil {
				resultErr = err
				return
			}
			privateID = v.PrivateID
			sess = completed
			sourceRoomID = v.SourceRoomID
		} else {
			loaded, err := session.Load(ctx, s.kv, privateID)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					resultErr = err
					return
				}
				loaded = &session.Session{
					PublicID:  newPublicID(),
					Created:   time.Now(),
					Connected: true,
				}
			}
			sess = loaded
		}

		publicID := sess.PublicID
		sess.Connected = true
		sess.LastRoomID = s.id

		entry, existing := s.conns[publicID]
		if existing && entry.cleanupTimer != nil {
			entry.cleanupTimer.Stop()
			entry.cleanupTimer = nil
		}

		user, ok := s.usersByPublic(publicID)
		if !ok {
			user = s.newUser(publicID)
			// Bind before Restore: Restore's field writes must flow
			// through the entity's now-active signal subscriptions so
			// they land in the engine's snapshot — a joining client's
			// first sync frame reads that snapshot, not the entity
			// directly (spec §4.3.1/§4.4 "state restoration").
			s.users.Set(publicID, user)
			if sess.State != nil {
				user.Restore(sess.State)
			}
		}
		user.SetConnected(true)

		entry = &connEntry{conn: req.Conn, publicID: publicID, privateID: privateID, user: user}
		s.conns[publicID] = entry
		s.byConn[req.Conn] = entry

		if err := session.Save(ctx, s.kv, privateID, sess); err != nil {
			s.logger.Error(ctx, "room %s: save session for %s: %v", s.id, publicID, err)
		}

		joinCtx := &UserContext{Room: s, User: user, Conn: req.Conn, PrivateID: privateID, PublicID: publicID}
		if req.TransferToken != "" && s.hooks.OnSessionTransfer != nil {
			s.hooks.OnSessionTransfer(ctx, joinCtx, sess.TransferData)
			sess.TransferData = nil
			_ = session.Save(ctx, s.kv, privateID, sess)
		}
		if s.hooks.OnJoin != nil {
			s.hooks.OnJoin(ctx, joinCtx)
		}

		_ = sourceRoomID
		req.Conn.Send(s.firstSyncFrame(publicID, privateID))
	})
	return resultErr
}

// firstSyncFrame builds the joining client's initial full-tree sync,
// augmented with pId/privateId per spec §6.1.
func (s *Server) firstSyncFrame(publicID, privateID string) map[string]any {
	tree := statesync.Expand(s.engine.Snapshot())
	tree["pId"] = publicID
	tree["privateId"] = privateID
	return map[string]any{"type": "sync", "value": tree}
}

func (s *Server) usersByPublic(publicID string) (User, bool) {
	u, ok := s.users.Get(publicID)
	return u, ok
}

// Disconnect implements spec §4.3.4.
func (s *Server) Disconnect(conn transport.Conn) {
	s.post(func() {
		entry, ok := s.byConn[conn]
		if !ok {
			return
		}
		delete(s.byConn, conn)
		ctx := context.Background()

		sess, err := session.Load(ctx, s.kv, entry.privateID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error(ctx, "room %s: load session on disconnect for %s: %v", s.id, entry.publicID, err)
		}
		if sess != nil {
			sess.Connected = false
			sess.State = entry.user.Snapshot()
			if err := session.Save(ctx, s.kv, entry.privateID, sess); err != nil {
				s.logger.Error(ctx, "room %s: persist session on disconnect for %s: %v", s.id, entry.publicID, err)
			}
		}

		if s.sessionExpiry <= 0 {
			s.cleanupUser(entry)
			return
		}

		entry.user.SetConnected(false)
		s.broadcastEvent("user_offline", map[string]any{"publicId": entry.publicID})

		publicID := entry.publicID
		entry.cleanupTimer = time.AfterFunc(s.sessionExpiry, func() {
			s.post(func() {
				live, stillPresent := s.conns[publicID]
				if !stillPresent || live.cleanupTimer == nil {
					return
				}
				s.cleanupUser(live)
			})
		})
	})
}

// cleanupUser implements spec §4.3.4 step 4. It is not idempotent on
// its own (a second call reruns OnLeave, the session delete and the
// broadcast); it removes entry from s.conns, and the grace-timer path
// skips entries that are no longer there.
func (s *Server) cleanupUser(entry *connEntry) {
	delete(s.conns, entry.publicID)

	ctx := context.Background()
	uc := &UserContext{Room: s, User: entry.user, Conn: entry.conn, PrivateID: entry.privateID, PublicID: entry.publicID}
	if s.hooks.OnLeave != nil {
		s.hooks.OnLeave(ctx, uc)
	}
	s.users.Delete(entry.publicID)
	if err := session.Delete(ctx, s.kv, entry.privateID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error(ctx, "room %s: delete session for %s: %v", s.id, entry.publicID, err)
	}
	s.broadcastEvent("user_disconnected", map[string]any{"publicId": entry.publicID})
}

// broadcastEvent sends a non-sync server message to every connection.
func (s *Server) broadcastEvent(eventType string, value any) {
	packet := map[string]any{"type": eventType, "value": value}
	for _, entry := range s.conns {
		entry.conn.Send(packet)
	}
}

// HandleInbound implements transport.Sink: parse the {action, value}
// envelope and post it onto the dispatch loop (spec §4.3.2 step 1).
func (s *Server) HandleInbound(conn transport.Conn, raw []byte) {
	var envelope struct {
		Action string          `json:"action"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Action == "" {
		return
	}
	s.dispatchAction(conn, envelope.Action, envelope.Value)
}

// HandleDisconnect implements transport.Sink.
func (s *Server) HandleDisconnect(conn transport.Conn) {
	s.Disconnect(conn)
}

// newPublicID mints a broadcast-visible identity for a brand new
// session, using the same crypto/rand token scheme as transfer tokens.
func newPublicID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
