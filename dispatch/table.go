package dispatch

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Route binds one method and path descriptor to a handler. Paths are literal;
// a trailing "/" makes the route a prefix match, anything else matches
// exactly.
type Route struct {
	Method  string
	Path    string
	Name    string
	Handler http.Handler
}

// Table is a fixed route table resolved by longest path first. The set of
// routes is validated and ordered once at construction; nothing is registered
// or mutated per request.
type Table struct {
	routes   []Route
	notFound http.Handler
}

// NewTable validates every route up front and orders them longest path
// first so an overlapping prefix route never shadows a more specific one.
func NewTable(routes ...Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("dispatch: at least one route is required")
	}
	seen := map[string]string{}
	compiled := make([]Route, 0, len(routes))
	for _, route := range routes {
		method := strings.ToUpper(strings.TrimSpace(route.Method))
		path := strings.TrimSpace(route.Path)
		switch method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
		default:
			return nil, fmt.Errorf("dispatch: route %q has unsupported method %q", route.Name, route.Method)
		}
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("dispatch: route %q path %q must start with /", route.Name, route.Path)
		}
		if route.Handler == nil {
			return nil, fmt.Errorf("dispatch: route %q has no handler", route.Name)
		}
		key := method + " " + path
		if existing, dup := seen[key]; dup {
			return nil, fmt.Errorf("dispatch: route %q duplicates %q for %s", route.Name, existing, key)
		}
		seen[key] = route.Name
		route.Method = method
		route.Path = path
		compiled = append(compiled, route)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if len(compiled[i].Path) != len(compiled[j].Path) {
			return len(compiled[i].Path) > len(compiled[j].Path)
		}
		return compiled[i].Path < compiled[j].Path
	})
	return &Table{routes: compiled}, nil
}

// WithNotFound sets the handler invoked when no route matches.
func (t *Table) WithNotFound(handler http.Handler) *Table {
	if t != nil {
		t.notFound = handler
	}
	return t
}

// Resolve returns the first route matching the method and path in
// longest-path-first order. The boolean reports whether any route matched.
func (t *Table) Resolve(method, path string) (Route, bool) {
	if t == nil {
		return Route{}, false
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, route := range t.routes {
		if route.Method != method {
			continue
		}
		if routeMatches(route.Path, path) {
			return route, true
		}
	}
	return Route{}, false
}

// Routes returns the table contents in resolution order.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := t.Resolve(r.Method, r.URL.Path)
	if ok {
		route.Handler.ServeHTTP(w, r)
		return
	}
	if t.pathKnown(r.URL.Path) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if t != nil && t.notFound != nil {
		t.notFound.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func (t *Table) pathKnown(path string) bool {
	if t == nil {
		return false
	}
	for _, route := range t.routes {
		if routeMatches(route.Path, path) {
			return true
		}
	}
	return false
}

func routeMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") && pattern != "/" {
		return strings.HasPrefix(path, pattern)
	}
	return pattern == path || (pattern == "/" && path == "/")
}
