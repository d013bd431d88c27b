// Package transport is the wire transport adapter spec §4.3 routes
// every room connection through: a small Conn interface plus a
// concrete gorilla/websocket implementation, grounded on the
// teacher's rooms.Client readPump/writePump/ping-pong idiom.
package transport

import "errors"

// ErrSendBufferFull is returned by Send when a connection's outbound
// queue is saturated — the room drops the message for that
// connection rather than blocking the dispatch loop.
var ErrSendBufferFull = errors.New("transport: send buffer full")

// Conn is one client connection as seen by a room. Rooms never touch
// gorilla/websocket directly; they hold a Conn.
type Conn interface {
	// Send enqueues v (marshaled as JSON) for delivery. Non-blocking:
	// returns ErrSendBufferFull instead of blocking the caller.
	Send(v any) error
	// Close terminates the connection.
	Close() error
	// RemoteAddr identifies the peer for logging and rate limiting.
	RemoteAddr() string
}

// Sink receives events from a Conn's read pump. A room implements Sink
// so inbound frames and disconnects feed its single dispatch loop
// rather than running concurrently with the rest of its state.
type Sink interface {
	HandleInbound(conn Conn, raw []byte)
	HandleDisconnect(conn Conn)
}

// Broadcast sends v to every connection in conns, skipping (and
// logging nothing further than dropping) any whose buffer is full —
// mirrors the teacher's Manager.handleRoom broadcast loop, which skips
// a full client channel rather than blocking the whole room.
func Broadcast(conns []Conn, v any) {
	for _, c := range conns {
		_ = c.Send(v)
	}
}
