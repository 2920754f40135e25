package rpcmiddleware

import (
	"context"
	"log"
	"time"

	"leco/rpcmsg"
)

// Logging records the method, duration, and any error for each dispatched
// RPC call, matching the teacher's plain log.Printf diagnostic style.
func Logging(prefix string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
			start := time.Now()
			resp := next(ctx, req)
			dur := time.Since(start)
			if resp != nil && resp.Error != nil {
				log.Printf("%s method=%s duration=%s error=%s", prefix, req.Method, dur, resp.Error.Message)
			} else {
				log.Printf("%s method=%s duration=%s", prefix, req.Method, dur)
			}
			return resp
		}
	}
}
