package rpcmiddleware

import (
	"context"

	"golang.org/x/time/rate"

	"leco/rpcmsg"
)

// RateLimit guards a dispatch surface with a token-bucket limiter, shared
// across all requests passed through this middleware instance. Used by the
// Coordinator to bound its administrative RPC surface against a
// misbehaving Component, per SPEC_FULL's DOMAIN STACK section.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
			if !limiter.Allow() {
				if req.ID == nil {
					return nil
				}
				return rpcmsg.NewErrorResponse(*req.ID, rpcmsg.ServerErrorErr("rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
