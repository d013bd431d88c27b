package transport

import "testing"

type fakeConn struct {
	sent   []any
	closed bool
	addr   string
}

func (f *fakeConn) Send(v any) error {
	f.sent = append(f.sent, v)
	return nil
}
func (f *fakeConn) Close() error       { f.closed = true; return nil }
func (f *fakeConn) RemoteAddr() string { return f.addr }

func TestBroadcastSendsToEveryConn(t *testing.T) {
	a := &fakeConn{addr: "a"}
	b := &fakeConn{addr: "b"}

	Broadcast([]Conn{a, b}, map[string]any{"type": "sync"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both conns to receive the message, got a=%v b=%v", a.sent, b.sent)
	}
}

type fullConn struct{}

func (fullConn) Send(v any) error   { return ErrSendBufferFull }
func (fullConn) Close() error       { return nil }
func (fullConn) RemoteAddr() string { return "full" }

func TestBroadcastToleratesFullConn(t *testing.T) {
	a := &fakeConn{addr: "a"}
	full := fullConn{}

	// Must not panic even though full's Send always errors.
	Broadcast([]Conn{a, full}, "ping")

	if len(a.sent) != 1 {
		t.Fatalf("expected the healthy conn to still receive the message")
	}
}
