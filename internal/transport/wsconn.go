package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// pingPeriod sends a ping this often; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds a single inbound frame.
	maxMessageSize = 8192
)

// Upgrader is shared by every WSConn. Origin checking is left to the
// caller's HTTP handler (the World registry's placement already scopes
// which hosts get handed a shard URL).
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConn is a Conn backed by a single *websocket.Conn, with the
// teacher's readPump/writePump/ping-pong idiom (rooms.Client).
type WSConn struct {
	conn *websocket.Conn
	send chan any
	sink Sink

	closeOnce sync.Once
}

// NewWSConn wraps an already-upgraded websocket connection. Call
// Start to begin its pumps once the caller has finished any
// connection-setup bookkeeping (e.g. registering with the room).
func NewWSConn(conn *websocket.Conn, sink Sink) *WSConn {
	return &WSConn{
		conn: conn,
		send: make(chan any, 256),
		sink: sink,
	}
}

// Start launches the read and write pumps as two goroutines, exactly
// as the teacher's Client.Start does.
func (c *WSConn) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *WSConn) Send(v any) error {
	select {
	case c.send <- v:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump pumps inbound frames to the sink. At most one reader per
// connection, per gorilla/websocket's concurrency contract.
func (c *WSConn) readPump() {
	defer func() {
		c.sink.HandleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.sink.HandleInbound(c, message)
	}
}

// writePump pumps outbound messages and keepalive pings. At most one
// writer per connection, per gorilla/websocket's concurrency contract.
func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
