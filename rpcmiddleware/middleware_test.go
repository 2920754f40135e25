package rpcmiddleware

import (
	"context"
	"testing"

	"leco/rpcmsg"
)

func markerMiddleware(label string, order *[]string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
			*order = append(*order, label+":in")
			resp := next(ctx, req)
			*order = append(*order, label+":out")
			return resp
		}
	}
}

func TestChainOrdersOutermostFirst(t *testing.T) {
	var order []string
	handler := func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
		order = append(order, "handler")
		return rpcmsg.NewResultResponse(*req.ID, nil)
	}

	chained := Chain(markerMiddleware("A", &order), markerMiddleware("B", &order))(handler)
	req := rpcmsg.NewRequest(rpcmsg.NewNumID(1), "noop", nil)
	chained(context.Background(), req)

	want := []string{"A:in", "B:in", "handler", "B:out", "A:out"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestChainWithNoMiddlewaresIsIdentity(t *testing.T) {
	called := false
	handler := func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
		called = true
		return nil
	}
	Chain()(handler)(context.Background(), rpcmsg.NewRequest(rpcmsg.NewNumID(1), "noop", nil))
	if !called {
		t.Fatal("expected the wrapped handler to run")
	}
}
