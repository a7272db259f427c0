package routing

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

type Route struct {
	ID          string
	Methods     map[string]struct{} // empty means any method
	Prefix      string
	UpURL       *url.URL
	Timeout     time.Duration
	RateLimited bool // admission checked by the chat limiter
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

// Add registers rt. Routes are kept longest prefix first.
func (r *Router) Add(rt *Route) {
	rt.Prefix = normalizePrefix(rt.Prefix)
	r.routes = append(r.routes, rt)
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Prefix) > len(r.routes[j].Prefix)
	})
}

func (r *Router) Routes() []*Route {
	return r.routes
}

func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if len(rt.Methods) > 0 {
			if _, ok := rt.Methods[m]; !ok {
				continue
			}
		}
		if rt.Prefix == "/" || path == rt.Prefix || strings.HasPrefix(path, rt.Prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

func normalizePrefix(p string) string {
	p = strings.TrimSuffix(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
