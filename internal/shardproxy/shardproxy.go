// Package shardproxy implements spec §4.6: a shard that holds no game
// logic of its own. It forwards every client event to a persistent
// upstream connection to the main room and routes the main room's
// replies back to the originating client (or broadcasts them). It is
// grounded on the teacher's rooms.Client for the per-client websocket
// half and reuses internal/transport's Conn/Sink abstractions for
// both legs of the proxy.
package shardproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roomfabric/engine/internal/transport"
	"github.com/roomfabric/engine/internal/utils"
)

// clientEntry tracks one locally-connected client the proxy has
// forwarded to the main room.
type clientEntry struct {
	conn      transport.Conn
	privateID string
	publicID  string
}

// Proxy is one shard's forwarding runtime.
type Proxy struct {
	shardID     string
	mainRoomURL string
	logger      *utils.Logger

	mu      sync.Mutex
	clients map[string]*clientEntry // keyed by privateId
	byConn  map[transport.Conn]*clientEntry

	upstream transport.Conn
}

// New builds a Proxy. Call Start to dial the main room.
func New(shardID, mainRoomURL string, logger *utils.Logger) *Proxy {
	return &Proxy{
		shardID:     shardID,
		mainRoomURL: mainRoomURL,
		logger:      logger,
		clients:     make(map[string]*clientEntry),
		byConn:      make(map[transport.Conn]*clientEntry),
	}
}

// Start opens the persistent upstream socket to the main room. The
// connection is not retried automatically here; callers supervising
// the process should redial on a returned error (mirroring the
// teacher's approach of letting the outer process manager restart a
// failed component rather than hand-rolling reconnect logic inline).
func (p *Proxy) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.mainRoomURL, http.Header{
		"X-Shard-Id": []string{p.shardID},
	})
	if err != nil {
		return err
	}
	ws := transport.NewWSConn(conn, upstreamSink{p})
	ws.Start()
	p.mu.Lock()
	p.upstream = ws
	p.mu.Unlock()
	return nil
}

// HandleClientConnect registers a new local client and forwards
// shard.clientConnected upstream (spec §4.6).
func (p *Proxy) HandleClientConnect(conn transport.Conn, privateID string, connectionInfo map[string]any) {
	entry := &clientEntry{conn: conn, privateID: privateID}
	p.mu.Lock()
	p.clients[privateID] = entry
	p.byConn[conn] = entry
	p.mu.Unlock()

	p.sendUpstream(map[string]any{
		"type":           "shard.clientConnected",
		"privateId":      privateID,
		"connectionInfo": connectionInfo,
	})
}

// HandleInbound implements transport.Sink for locally-connected
// clients: wrap their message and forward it upstream.
func (p *Proxy) HandleInbound(conn transport.Conn, raw []byte) {
	p.mu.Lock()
	entry, ok := p.byConn[conn]
	p.mu.Unlock()
	if !ok {
		return
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	p.sendUpstream(map[string]any{
		"type":      "shard.clientMessage",
		"privateId": entry.privateID,
		"publicId":  entry.publicID,
		"payload":   payload,
	})
}

// HandleDisconnect implements transport.Sink for locally-connected
// clients: forward shard.clientDisconnected and drop local tracking.
func (p *Proxy) HandleDisconnect(conn transport.Conn) {
	p.mu.Lock()
	entry, ok := p.byConn[conn]
	if ok {
		delete(p.byConn, conn)
		delete(p.clients, entry.privateID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.sendUpstream(map[string]any{
		"type":      "shard.clientDisconnected",
		"privateId": entry.privateID,
		"publicId":  entry.publicID,
	})
}

func (p *Proxy) sendUpstream(v any) {
	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()
	if up == nil {
		return
	}
	if err := up.Send(v); err != nil {
		p.logger.Error(context.Background(), "shardproxy %s: send upstream: %v", p.shardID, err)
	}
}

// upstreamSink adapts Proxy's upstream-specific handlers to
// transport.Sink without colliding with the identically-named methods
// Proxy exposes for its locally-connected clients.
type upstreamSink struct{ p *Proxy }

func (s upstreamSink) HandleInbound(conn transport.Conn, raw []byte) { s.p.HandleUpstreamInbound(conn, raw) }
func (s upstreamSink) HandleDisconnect(conn transport.Conn)          { s.p.HandleUpstreamDisconnect(conn) }

// upstreamEnvelope is what the main room sends back down the shard
// socket: either a targeted reply or a broadcast to every client.
type upstreamEnvelope struct {
	TargetClientID string          `json:"targetClientId"`
	PublicID       string          `json:"publicId"`
	Payload        json.RawMessage `json:"payload"`
}

// HandleUpstreamInbound implements transport.Sink for the upstream
// leg: route a targeted reply to one client, or broadcast to all
// (spec §4.6 "On inbound message from the main room").
func (p *Proxy) HandleUpstreamInbound(conn transport.Conn, raw []byte) {
	var env upstreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if env.TargetClientID != "" {
		if entry, ok := p.clients[env.TargetClientID]; ok {
			_ = entry.conn.Send(env.Payload)
		}
		if env.PublicID != "" {
			for _, entry := range p.clients {
				if entry.publicID == "" {
					entry.publicID = env.PublicID
				}
			}
		}
		return
	}
	for _, entry := range p.clients {
		_ = entry.conn.Send(env.Payload)
	}
}

// HandleUpstreamDisconnect implements transport.Sink for the upstream
// leg: the main room connection dropped. Local clients are left
// connected; a supervising process should redial and call Start again.
func (p *Proxy) HandleUpstreamDisconnect(conn transport.Conn) {
	p.mu.Lock()
	p.upstream = nil
	p.mu.Unlock()
	p.logger.Error(context.Background(), "shardproxy %s: upstream connection lost", p.shardID)
}
