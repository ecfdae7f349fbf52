package gateway

import (
	"context"
	"net/http"
	"strings"
)

// paramsKey is the context key Router stores path params under.
type paramsKey struct{}

// PathParam returns the named `:segment` value matched for req, or "" if
// the route carried no such param.
func PathParam(req *http.Request, name string) string {
	params, _ := req.Context().Value(paramsKey{}).(map[string]string)
	return params[name]
}

type route struct {
	method  string
	segs    []string
	handler http.Handler
}

// Router implements spec.md §6's pluggable route registration —
// addRoute({method, path, handler}) with `:param` segment matching — as a
// small standalone mux rather than reaching for a third-party router:
// the match rule is a handful of lines and every example repo in the
// pack that needs HTTP routing hand-rolls this same pattern.
type Router struct {
	routes []route
	mux    *http.ServeMux
}

// NewRouter creates an empty pluggable router. mux receives the
// registrations that don't carry a `:param` segment (the common case);
// param routes always go through Router.ServeHTTP's own matcher since
// http.ServeMux has no wildcard-segment support.
func NewRouter(mux *http.ServeMux) *Router {
	return &Router{mux: mux}
}

// AddRoute registers handler for method+path. path segments prefixed
// with `:` bind to the request's path params, retrievable via PathParam.
func (r *Router) AddRoute(method, path string, handler http.HandlerFunc) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	hasParam := false
	for _, s := range segs {
		if strings.HasPrefix(s, ":") {
			hasParam = true
			break
		}
	}
	if !hasParam {
		pattern := path
		if method != "" {
			pattern = method + " " + path
		}
		r.mux.Handle(pattern, handler)
		return
	}
	r.routes = append(r.routes, route{method: method, segs: segs, handler: handler})
}

// ServeHTTP matches req against the param routes registered via AddRoute,
// falling back to the wrapped mux. Intended to be mounted ahead of the
// plain mux (see Server.BuildMux).
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	reqSegs := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	for _, rt := range r.routes {
		if rt.method != "" && rt.method != req.Method {
			continue
		}
		params, ok := matchSegs(rt.segs, reqSegs)
		if !ok {
			continue
		}
		ctx := context.WithValue(req.Context(), paramsKey{}, params)
		rt.handler.ServeHTTP(w, req.WithContext(ctx))
		return
	}
	r.mux.ServeHTTP(w, req)
}

func matchSegs(pattern, actual []string) (map[string]string, bool) {
	if len(pattern) != len(actual) {
		return nil, false
	}
	params := make(map[string]string)
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			params[p[1:]] = actual[i]
			continue
		}
		if p != actual[i] {
			return nil, false
		}
	}
	return params, true
}
