package methods

import (
	"encoding/json"
	"testing"

	"leco/rpcmsg"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}
type addReply struct {
	Sum int `json:"sum"`
}

type calculator struct{}

func (c *calculator) Add(args *addArgs, reply *addReply) error {
	reply.Sum = args.A + args.B
	return nil
}

// NotRPC has the wrong shape and must be skipped by Register.
func (c *calculator) NotRPC(x int) int { return x }

func TestRegisterAndCall(t *testing.T) {
	r := New()
	if err := r.Register(&calculator{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Has("Add") {
		t.Fatal("expected Add to be registered")
	}
	if r.Has("NotRPC") {
		t.Fatal("NotRPC has the wrong shape and must not be registered")
	}

	result, rpcErr := r.Call("Add", json.RawMessage(`{"a":2,"b":3}`))
	if rpcErr != nil {
		t.Fatalf("Call: %v", rpcErr)
	}
	var reply addReply
	if err := json.Unmarshal(result, &reply); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if reply.Sum != 5 {
		t.Errorf("sum = %d, want 5", reply.Sum)
	}
}

func TestRegisterRejectsNonPointer(t *testing.T) {
	if err := New().Register(calculator{}); err == nil {
		t.Fatal("expected an error for a non-pointer receiver")
	}
}

func TestRegisterRejectsNoCompatibleMethods(t *testing.T) {
	type empty struct{}
	if err := New().Register(&empty{}); err == nil {
		t.Fatal("expected an error when no method matches the RPC shape")
	}
}

func TestCallUnknownMethod(t *testing.T) {
	_, rpcErr := New().Call("missing", nil)
	if rpcErr == nil || rpcErr.Code != rpcmsg.CodeMethodNotFound {
		t.Fatalf("got %v, want method-not-found", rpcErr)
	}
}

func TestRegisterNamed(t *testing.T) {
	calc := &calculator{}
	r := New()
	if err := r.RegisterNamed("sum_it", calc.Add); err != nil {
		t.Fatalf("RegisterNamed: %v", err)
	}
	if !r.Has("sum_it") {
		t.Fatal("expected sum_it to be registered")
	}
	result, rpcErr := r.Call("sum_it", json.RawMessage(`{"a":10,"b":5}`))
	if rpcErr != nil {
		t.Fatalf("Call: %v", rpcErr)
	}
	var reply addReply
	json.Unmarshal(result, &reply)
	if reply.Sum != 15 {
		t.Errorf("sum = %d, want 15", reply.Sum)
	}
}

func TestRegisterNamedRejectsWrongShape(t *testing.T) {
	if err := New().RegisterNamed("bad", func(x int) {}); err == nil {
		t.Fatal("expected an error for a non-RPC-shaped fn")
	}
}

func TestCallInvalidParams(t *testing.T) {
	r := New()
	r.Register(&calculator{})
	_, rpcErr := r.Call("Add", json.RawMessage(`not json`))
	if rpcErr == nil {
		t.Fatal("expected an error for malformed params")
	}
}
