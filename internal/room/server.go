// Package room implements the Room runtime (spec §4.3): the
// single-threaded actor that owns connection lifecycle, action and
// request dispatch, the user/session table, and the sync/persist
// pipeline for one room. It is grounded on the teacher's
// rooms.Manager.handleRoom goroutine-with-channels idiom, generalized
// from three channel types (register/unregister/broadcast) to one
// channel of closures so connect, inbound messages, requests, and
// timers all serialize through the same point (spec §5).
package room

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/roomfabric/engine/internal/signal"
	"github.com/roomfabric/engine/internal/statesync"
	"github.com/roomfabric/engine/internal/storage"
	"github.com/roomfabric/engine/internal/transport"
	"github.com/roomfabric/engine/internal/utils"
)

// Hooks are the optional lifecycle callbacks spec §4.3 names.
type Hooks struct {
	OnJoin            func(ctx context.Context, uc *UserContext)
	OnLeave           func(ctx context.Context, uc *UserContext)
	OnSessionTransfer func(ctx context.Context, uc *UserContext, transferData map[string]any)
	// InterceptorPacket filters each outbound per-connection sync
	// fragment before it is sent (spec §4.3.5); returning ok=false
	// drops the packet for that recipient.
	InterceptorPacket func(uc *UserContext, packet map[string]any) (filtered map[string]any, ok bool)
}

// Config configures a Server at construction.
type Config struct {
	RoomID  string
	KV      storage.KV
	Logger  *utils.Logger
	NewUser UserFactory

	Guards   []Guard
	Actions  *ActionRegistry
	Requests *RequestRegistry
	Hooks    Hooks

	// SessionExpiry is the grace period after disconnect before a
	// user is torn down (spec §4.3.4). Zero runs cleanup immediately.
	SessionExpiry time.Duration

	SyncThrottle    time.Duration
	PersistThrottle time.Duration
}

// connEntry tracks one live connection. Every field is touched only
// from the Server's dispatch goroutine.
type connEntry struct {
	conn         transport.Conn
	publicID     string
	privateID    string
	user         User
	cleanupTimer *time.Timer
}

// Server is one room's single-threaded actor.
type Server struct {
	id      string
	kv      storage.KV
	logger  *utils.Logger
	newUser UserFactory

	guards   []Guard
	actions  *ActionRegistry
	requests *RequestRegistry
	hooks    Hooks

	sessionExpiry time.Duration

	engine *statesync.Engine
	users  *signal.Map[User]

	conns       map[string]*connEntry // keyed by publicId
	byConn      map[transport.Conn]*connEntry
	unbindUsers func()

	events chan func()
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a Server but does not start its dispatch loop; call Start.
func New(cfg Config) *Server {
	s := &Server{
		id:            cfg.RoomID,
		kv:            cfg.KV,
		logger:        cfg.Logger,
		newUser:       cfg.NewUser,
		guards:        cfg.Guards,
		actions:       cfg.Actions,
		requests:      cfg.Requests,
		hooks:         cfg.Hooks,
		sessionExpiry: cfg.SessionExpiry,
		conns:         make(map[string]*connEntry),
		byConn:        make(map[transport.Conn]*connEntry),
		events:        make(chan func(), 256),
		done:          make(chan struct{}),
	}
	if cfg.Actions == nil {
		s.actions = NewActionRegistry()
	}
	if cfg.Requests == nil {
		s.requests = NewRequestRegistry()
	}

	s.engine = statesync.New(s.broadcastSync, s.persistCache, cfg.SyncThrottle, cfg.PersistThrottle)
	s.users = signal.NewMap[User](nil)
	s.unbindUsers = statesync.BindMapOfEntities(s.engine, "users", s.users)

	return s
}

// ID returns the room identifier.
func (s *Server) ID() string { return s.id }

// Engine exposes the sync/diff engine, e.g. for manual-sync control
// from action handlers.
func (s *Server) Engine() *statesync.Engine { return s.engine }

// Start launches the dispatch goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the dispatch loop and stops throttle timers. Events still
// queued when the loop ends are not run. It does not close individual
// connections — callers own that.
func (s *Server) Stop() {
	close(s.done)
	s.wg.Wait()
	s.unbindUsers()
	s.engine.Close()
}

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post runs fn on the dispatch goroutine and blocks until it
// completes. Used by request-response style calls (Connect, Dispatch
// Request) where the caller needs a synchronous result.
func (s *Server) post(fn func()) {
	done := make(chan struct{})
	s.events <- func() {
		fn()
		close(done)
	}
	<-done
}

// broadcastSync is the engine's onSync callback: expand the dotted
// patch into a nested tree and broadcast a sync frame to every
// connection, applying each connection's packet interceptor if one is
// configured (spec §4.2 onSync, §4.3.5).
func (s *Server) broadcastSync(patch map[string]any) {
	tree := statesync.Expand(patch)
	for _, entry := range s.conns {
		packet := map[string]any{"type": "sync", "value": tree}
		if s.hooks.InterceptorPacket != nil {
			uc := &UserContext{Room: s, User: entry.user, Conn: entry.conn, PrivateID: entry.privateID, PublicID: entry.publicID}
			filtered, ok := s.hooks.InterceptorPacket(uc, packet)
			if !ok {
				continue
			}
			packet = filtered
		}
		entry.conn.Send(packet)
	}
}

// persistCache is the engine's onPersist callback: write each changed
// leaf under its own KV key. Retries with bounded exponential backoff
// mirror the teacher's persistence.MessageWriter.writeBatch idiom; a
// path that still fails after the last attempt is logged and dropped,
// since in-memory state remains authoritative (spec §7
// Infrastructure). It is not queued again: it is written only if it
// changes and reaches a later flush.
func (s *Server) persistCache(patch map[string]any) {
	ctx := context.Background()
	const maxRetries = 5
	const initialBackoff = 100 * time.Millisecond

	for path, v := range patch {
		key := s.id + ":" + path
		raw, err := encodeLeaf(v)
		if err != nil {
			s.logger.Error(ctx, "room %s: encode persist leaf %s: %v", s.id, path, err)
			continue
		}

		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			if signal.IsDelete(v) {
				lastErr = s.kv.Delete(ctx, key)
			} else {
				lastErr = s.kv.Put(ctx, key, raw)
			}
			if lastErr == nil {
				break
			}
			time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(attempt))))
		}
		if lastErr != nil {
			s.logger.Error(ctx, "room %s: persist %s failed after %d attempts: %v", s.id, path, maxRetries, lastErr)
		}
	}
}
