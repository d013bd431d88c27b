package room

import (
	"context"
	"strings"
)

// RequestHandler implements one declarative HTTP-style endpoint (spec
// §4.3.3). It returns a value to be JSON-encoded with status 200, or
// an error mapped per spec §7.
type RequestHandler func(ctx context.Context, uc *UserContext, params map[string]string, body []byte) (any, error)

// Route is one method+path-template entry.
type Route struct {
	Method  string
	Pattern string // e.g. "/state/{userId}"
	Schema  Validator
	Handler RequestHandler

	segments []string
}

// RequestRegistry holds a room's declarative HTTP endpoints. Matching
// is exact by method and template, first-registered match wins (spec
// §4.3.3), mirroring the teacher's `api.Router` ServeMux-pattern
// layout but scoped to one room instead of the whole process.
type RequestRegistry struct {
	routes []Route
}

// NewRequestRegistry returns an empty registry.
func NewRequestRegistry() *RequestRegistry {
	return &RequestRegistry{}
}

// Register adds a route. Pattern segments wrapped in {} bind to the
// params map passed to the handler.
func (r *RequestRegistry) Register(method, pattern string, schema Validator, handler RequestHandler) *RequestRegistry {
	r.routes = append(r.routes, Route{
		Method:   method,
		Pattern:  pattern,
		Schema:   schema,
		Handler:  handler,
		segments: splitPath(pattern),
	})
	return r
}

// Match finds the first route whose method and pattern match path,
// returning the route and its extracted path parameters.
func (r *RequestRegistry) Match(method, path string) (*Route, map[string]string, bool) {
	candidate := splitPath(path)
	for i := range r.routes {
		route := &r.routes[i]
		if route.Method != method {
			continue
		}
		params, ok := matchSegments(route.segments, candidate)
		if ok {
			return route, params, true
		}
	}
	return nil, nil, false
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, candidate []string) (map[string]string, bool) {
	if len(pattern) != len(candidate) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")] = candidate[i]
			continue
		}
		if seg != candidate[i] {
			return nil, false
		}
	}
	return params, true
}
