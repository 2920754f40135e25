package component

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"leco/frame"
	"leco/fullname"
	"leco/identity"
	"leco/rpcmsg"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}
type addReply struct {
	Sum int `json:"sum"`
}
type adder struct{}

func (adder) Add(args *addArgs, reply *addReply) error {
	reply.Sum = args.A + args.B
	return nil
}

// dialedRuntime starts a listener, connects a Runtime to it, and hands back
// the server-side raw connection so a test can play Coordinator by hand.
func dialedRuntime(t *testing.T) (*Runtime, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	r := New("127.0.0.1", addr.Port, "probe")
	if err := r.RegisterMethod(&adder{}); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}
	if err := r.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	var server net.Conn
	select {
	case server = <-acceptedCh:
	case <-time.After(time.Second):
		t.Fatal("coordinator side never accepted")
	}
	return r, server
}

// TestDispatchSingleItemBatchRoundTrip guards the exact bug a length-based
// heuristic would miss: a one-element batch array sent to a Component must
// come back as a one-element batch array, not an unwrapped bare object.
func TestDispatchSingleItemBatchRoundTrip(t *testing.T) {
	r, server := dialedRuntime(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	req := rpcmsg.NewRequest(rpcmsg.NewNumID(1), "Add", json.RawMessage(`{"a":2,"b":3}`))
	batch, err := rpcmsg.EncodeBatch([]json.Marshaler{req})
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}

	env := &frame.ControlEnvelope{
		Receiver:       fullname.FullName{Namespace: "N1", Local: "probe"},
		Sender:         fullname.FullName{Namespace: "N1", Local: "caller"},
		ConversationID: identity.NewConversationID(),
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{batch},
	}
	if err := frame.EncodeControl(server, env); err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := frame.DecodeControl(server)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if len(reply.Payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(reply.Payloads))
	}

	decoded, isBatch, err := rpcmsg.DecodePayload(reply.Payloads[0])
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !isBatch {
		t.Fatal("reply to a one-element batch request must itself be a one-element batch array, not a bare object")
	}
	if len(decoded) != 1 || decoded[0].Response == nil {
		t.Fatalf("got %+v", decoded)
	}
	var reply2 addReply
	if err := json.Unmarshal(decoded[0].Response.Result, &reply2); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if reply2.Sum != 5 {
		t.Errorf("sum = %d, want 5", reply2.Sum)
	}
}

// TestDispatchSingleObjectRequestStaysUnwrapped is the mirror case: a
// non-batch single request must get a bare object back, not a one-element
// array.
func TestDispatchSingleObjectRequestStaysUnwrapped(t *testing.T) {
	r, server := dialedRuntime(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	req := rpcmsg.NewRequest(rpcmsg.NewNumID(1), "Add", json.RawMessage(`{"a":4,"b":5}`))
	payload, err := req.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	env := &frame.ControlEnvelope{
		Receiver:       fullname.FullName{Namespace: "N1", Local: "probe"},
		Sender:         fullname.FullName{Namespace: "N1", Local: "caller"},
		ConversationID: identity.NewConversationID(),
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}
	if err := frame.EncodeControl(server, env); err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := frame.DecodeControl(server)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	decoded, isBatch, err := rpcmsg.DecodePayload(reply.Payloads[0])
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if isBatch {
		t.Fatal("reply to a bare single request must not be wrapped in a batch array")
	}
	if len(decoded) != 1 || decoded[0].Response == nil {
		t.Fatalf("got %+v", decoded)
	}
}
