// Package rpcmiddleware implements the onion-model middleware chain used by
// both the Component runtime's local RPC dispatch and the Coordinator's
// administrative RPC dispatch.
//
// This generalizes the teacher framework's request/reply middleware chain
// (decorator pattern, Chain wraps right-to-left so the first middleware in
// the list is the outermost layer) from a custom RPCMessage envelope to
// rpcmsg.Request/Response.
package rpcmiddleware

import (
	"context"

	"leco/rpcmsg"
)

// HandlerFunc dispatches one JSON-RPC request and produces its response.
// For a notification (no id) the caller discards the return value.
type HandlerFunc func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response

// Middleware wraps a HandlerFunc with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one given is the outermost
// layer: Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
