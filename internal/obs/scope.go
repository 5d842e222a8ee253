package obs

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Scope holds request facts that only become known inside the handler chain,
// such as the matched route or the authenticated admin. Outer middleware
// reads them after the inner handler returns.
type Scope struct {
	mu      sync.Mutex
	route   string
	adminID string
}

type scopeKey struct{}

// WithScope attaches a fresh Scope to ctx.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFrom returns the Scope installed on ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// SetRoute pins the route label. Safe on a nil Scope.
func (s *Scope) SetRoute(route string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.route = route
	s.mu.Unlock()
}

// SetAdmin records the authenticated admin. Safe on a nil Scope.
func (s *Scope) SetAdmin(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.adminID = id
	s.mu.Unlock()
}

// AdminID returns the admin recorded by SetAdmin.
func (s *Scope) AdminID() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminID
}

func (s *Scope) pinnedRoute() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// Scoped installs a Scope on every request.
func Scoped(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := WithScope(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithRoute returns ctx carrying a Scope pinned to route. Handlers mounted
// outside chi use it to get a stable label.
func WithRoute(ctx context.Context, route string) context.Context {
	s := ScopeFrom(ctx)
	if s == nil {
		ctx, s = WithScope(ctx)
	}
	s.SetRoute(route)
	return ctx
}

// Route resolves the route pattern for r. chi fills its pattern while routing,
// so middleware mounted at the top of the router must call this after next
// has returned. Returns "" when nothing matched.
func Route(r *http.Request) string {
	if r == nil {
		return ""
	}
	if route := ScopeFrom(r.Context()).pinnedRoute(); route != "" {
		return route
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// ResponseStatus reports the status written through ww, treating a handler
// that wrote nothing as 200.
func ResponseStatus(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
