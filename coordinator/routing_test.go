package coordinator_test

import (
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"leco/frame"
	"leco/fullname"
	"leco/identity"
	"leco/rpcmsg"
)

// rawSignIn dials the Coordinator directly (bypassing component.Runtime,
// which never sends batches) and performs the sign_in handshake by hand,
// returning the raw connection and the Component's assigned full name.
func rawSignIn(t *testing.T, port int, localName string) (net.Conn, fullname.FullName) {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	req := rpcmsg.NewRequest(rpcmsg.NewNumID(1), "sign_in", json.RawMessage(`{}`))
	payload, err := req.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	env := &frame.ControlEnvelope{
		Receiver:       fullname.Coordinator(""),
		Sender:         fullname.FullName{Local: localName},
		ConversationID: identity.NewConversationID(),
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}
	if err := frame.EncodeControl(conn, env); err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := frame.DecodeControl(conn)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	decoded, _, err := rpcmsg.DecodePayload(reply.Payloads[0])
	if err != nil || len(decoded) != 1 || decoded[0].Response == nil || decoded[0].Response.Error != nil {
		t.Fatalf("sign_in failed: decoded=%+v err=%v", decoded, err)
	}
	var signInReply struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(decoded[0].Response.Result, &signInReply); err != nil {
		t.Fatalf("unmarshal sign_in reply: %v", err)
	}
	full, err := fullname.Parse(signInReply.FullName)
	if err != nil {
		t.Fatalf("parse full name: %v", err)
	}
	conn.SetReadDeadline(time.Time{})
	return conn, full
}

// TestCoordinatorSingleItemBatchRoundTrip covers the administrative dispatch
// path (routing.go's dispatchLocal/sendBack): a one-element batch array
// addressed to the Coordinator's own <ns>.COORDINATOR must come back as a
// one-element batch array, never unwrapped into a bare object.
func TestCoordinatorSingleItemBatchRoundTrip(t *testing.T) {
	port := startCoordinator(t, "N1")
	conn, full := rawSignIn(t, port, "batchy")
	defer conn.Close()

	req := rpcmsg.NewRequest(rpcmsg.NewNumID(2), "pong", json.RawMessage(`{}`))
	batch, err := rpcmsg.EncodeBatch([]json.Marshaler{req})
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	env := &frame.ControlEnvelope{
		Receiver:       fullname.Coordinator(full.Namespace),
		Sender:         full,
		ConversationID: identity.NewConversationID(),
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{batch},
	}
	if err := frame.EncodeControl(conn, env); err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := frame.DecodeControl(conn)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	decoded, isBatch, err := rpcmsg.DecodePayload(reply.Payloads[0])
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !isBatch {
		t.Fatal("reply to a one-element batch request must itself be a one-element batch array, not a bare object")
	}
	if len(decoded) != 1 || decoded[0].Response == nil || decoded[0].Response.Error != nil {
		t.Fatalf("got %+v", decoded)
	}
}
