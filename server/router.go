package server

import (
	"strings"

	"github.com/valyala/fasthttp"
)

type compiledRoute struct {
	method     string
	pattern    string
	handler    fasthttp.RequestHandler
	paramNames []string
	segments   []string
}

// router matches static paths by map lookup and {param} patterns segment by
// segment, in registration order.
type router struct {
	static  map[string]fasthttp.RequestHandler
	dynamic []*compiledRoute
}

func newRouter() *router {
	return &router{
		static: make(map[string]fasthttp.RequestHandler),
	}
}

func (r *router) add(method, pattern string, handler fasthttp.RequestHandler) {
	if !strings.ContainsAny(pattern, "{:") {
		r.static[method+":"+normalizePath(pattern)] = handler
		return
	}

	r.dynamic = append(r.dynamic, &compiledRoute{
		method:     method,
		pattern:    pattern,
		handler:    handler,
		paramNames: extractParamNames(pattern),
		segments:   parsePathSegments(pattern),
	})
}

func (r *router) handler(notFound fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		if method == fasthttp.MethodHead {
			method = fasthttp.MethodGet
		}
		path := normalizePath(string(ctx.Path()))

		if h, ok := r.static[method+":"+path]; ok {
			h(ctx)
			return
		}

		segments := parsePathSegments(path)
		for _, route := range r.dynamic {
			if route.method != method {
				continue
			}
			if params := matchRoute(segments, route); params != nil {
				for name, value := range params {
					ctx.SetUserValue(name, value)
				}
				route.handler(ctx)
				return
			}
		}

		notFound(ctx)
	}
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

func extractParamNames(pattern string) []string {
	var params []string

	for _, seg := range parsePathSegments(pattern) {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, seg[1:len(seg)-1])
		} else if strings.HasPrefix(seg, ":") {
			params = append(params, seg[1:])
		}
	}

	return params
}

func matchRoute(pathSegments []string, route *compiledRoute) map[string]string {
	if len(pathSegments) != len(route.segments) {
		return nil
	}

	params := make(map[string]string, len(route.paramNames))
	paramIdx := 0

	for i, routeSegment := range route.segments {
		if strings.HasPrefix(routeSegment, "{") || strings.HasPrefix(routeSegment, ":") {
			if pathSegments[i] == "" {
				return nil
			}
			if paramIdx < len(route.paramNames) {
				params[route.paramNames[paramIdx]] = pathSegments[i]
				paramIdx++
			}
		} else if routeSegment != pathSegments[i] {
			return nil
		}
	}

	return params
}
