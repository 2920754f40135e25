package rpcmiddleware

import (
	"context"
	"time"

	"leco/rpcmsg"
)

// Timeout enforces a maximum duration for a single dispatch, matching §5's
// rule that no user-defined code may hold the owner thread beyond a single
// RPC dispatch. The handler goroutine is not cancelled, only raced against
// the deadline — true cancellation requires the handler to observe ctx.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *rpcmsg.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				if req.ID == nil {
					return nil
				}
				return rpcmsg.NewErrorResponse(*req.ID, rpcmsg.InternalErrorErr("request timed out"))
			}
		}
	}
}
