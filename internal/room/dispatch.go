package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roomfabric/engine/internal/transport"
)

var errNotFound = errors.New("room: no matching route")

// dispatchAction implements spec §4.3.2 steps 2-7. It posts onto the
// dispatch goroutine itself, so callers (HandleInbound) may invoke it
// directly from the connection's own read loop.
func (s *Server) dispatchAction(conn transport.Conn, name string, value json.RawMessage) {
	s.post(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(context.Background(), "room %s: action %s panicked: %v", s.id, name, r)
			}
		}()
		entry, ok := s.byConn[conn]
		if !ok {
			return
		}
		uc := &UserContext{Room: s, User: entry.user, Conn: conn, PrivateID: entry.privateID, PublicID: entry.publicID}

		for _, g := range s.guards {
			if !g(uc, value) {
				return
			}
		}

		action, ok := s.actions.Lookup(name)
		if !ok {
			return
		}
		for _, g := range action.Guards {
			if !g(uc, value) {
				return
			}
		}
		if action.Schema != nil {
			if err := action.Schema(value); err != nil {
				return
			}
		}
		if err := action.Handler(context.Background(), uc, value); err != nil {
			s.logger.Error(context.Background(), "room %s: action %s for %s: %v", s.id, name, entry.publicID, err)
		}
	})
}

// RequestError carries an HTTP-mappable error per spec §7 (Not-found,
// Conflict). DispatchRequest uses 404 for an unmatched route, 400 for
// a failed body validation and 500 for a handler panic; errors a
// handler returns are passed through unchanged.
type RequestError struct {
	Status int
	Err    error
}

func (e *RequestError) Error() string { return e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// DispatchRequest implements spec §4.3.3: match method+path against
// the room's RequestRegistry and invoke the handler with its extracted
// path parameters. uc.User/Conn/PublicID are left zero for requests
// not tied to a live connection; handlers needing a specific user
// resolve it from params themselves.
func (s *Server) DispatchRequest(ctx context.Context, method, path string, body []byte) (result any, err error) {
	route, params, ok := s.requests.Match(method, path)
	if !ok {
		return nil, &RequestError{Status: 404, Err: errNotFound}
	}
	if route.Schema != nil {
		if verr := route.Schema(body); verr != nil {
			return nil, &RequestError{Status: 400, Err: verr}
		}
	}

	s.post(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(ctx, "room %s: request %s %s panicked: %v", s.id, method, path, r)
				err = &RequestError{Status: 500, Err: fmt.Errorf("room: request handler panicked: %v", r)}
			}
		}()
		uc := &UserContext{Room: s}
		result, err = route.Handler(ctx, uc, params, body)
	})
	return result, err
}
