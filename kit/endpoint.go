// Package kit carries the transport-agnostic plumbing shared by plume's
// HTTP and MCP surfaces: the Endpoint function type, middleware chaining,
// and request-scoped context keys.
package kit

import "context"

// Endpoint is a single service operation in transport-neutral form. HTTP
// handlers and MCP tools both decode into a typed request and invoke an
// Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one listed is outermost: the
// request passes a→b→c→endpoint and the response unwinds c→b→a.
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}
