package component

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leco/frame"
	"leco/fullname"
	"leco/identity"
	"leco/rpcmsg"
)

// Ask sends a JSON-RPC request to receiver and blocks for its response, or
// for timeout, whichever comes first. It is the runtime's public RPC-call
// primitive, built on correlate.Buffer.Expect/Await per §4.5.
func (r *Runtime) Ask(ctx context.Context, receiver fullname.FullName, method string, params any, timeout time.Duration) (json.RawMessage, *rpcmsg.Error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}
	return r.ask(ctx, receiver, method, json.RawMessage(raw), timeout)
}

// ask is the internal form taking an already-or-not-yet-marshaled params
// value (any, including json.RawMessage), used both by the public Ask and
// by the sign-in/sign-out handshakes before the runtime is fully Signed.
func (r *Runtime) ask(ctx context.Context, receiver fullname.FullName, method string, params any, timeout time.Duration) (json.RawMessage, *rpcmsg.Error) {
	var raw json.RawMessage
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, rpcmsg.InvalidParamsErr(err.Error())
		}
		raw = b
	}

	cid := identity.NewConversationID()
	id := rpcmsg.NewNumID(1)
	req := rpcmsg.NewRequest(id, method, raw)
	payload, err := req.MarshalJSON()
	if err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}

	env := &frame.ControlEnvelope{
		Receiver:       receiver,
		Sender:         r.FullName(),
		ConversationID: cid,
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}

	r.mu.RLock()
	session := r.session
	r.mu.RUnlock()
	if session == nil {
		return nil, rpcmsg.InternalErrorErr("not connected")
	}

	slot := r.corr.Expect(cid)
	if err := session.Send(env); err != nil {
		r.corr.Discard(slot)
		return nil, rpcmsg.InternalErrorErr(err.Error())
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	replyEnv, waitErr := r.corr.Await(waitCtx, slot)
	if waitErr != nil {
		return nil, rpcmsg.InternalErrorErr(fmt.Sprintf("ask %s.%s: %v", receiver.String(), method, waitErr))
	}

	decoded, _, err := rpcmsg.DecodePayload(firstPayload(replyEnv))
	if err != nil || len(decoded) == 0 || decoded[0].Response == nil {
		return nil, rpcmsg.InternalErrorErr("malformed response")
	}
	resp := decoded[0].Response
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func firstPayload(env *frame.ControlEnvelope) []byte {
	if len(env.Payloads) == 0 {
		return nil
	}
	return env.Payloads[0]
}
