package component

import (
	"context"
	"encoding/json"
	"log"

	"leco/frame"
	"leco/fullname"
	"leco/rpcmsg"
	"leco/rpctransport"
)

// Run is the dispatch loop (§4.5): poll the transport, then route each
// envelope to (an awaited reply | the local RPC registry | the
// asynchronous handler). It returns when ctx is cancelled, Close is
// called, or the connection is lost.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		r.mu.RLock()
		session := r.session
		r.mu.RUnlock()
		if session == nil {
			return
		}

		env, err := session.Poll(r.HeartbeatInterval)
		if err != nil {
			if _, ok := err.(rpctransport.ErrPollTimeout); ok {
				r.onIdle(ctx)
				continue
			}
			log.Printf("component: transport error, signing out: %v", err)
			r.setState(Unsigned)
			return
		}

		r.touch()
		r.handleEnvelope(ctx, env)
	}
}

func (r *Runtime) onIdle(ctx context.Context) {
	if r.idleFor() < r.HeartbeatInterval {
		return
	}
	full := r.FullName()
	_, rpcErr := r.ask(ctx, fullname.Coordinator(full.Namespace), "pong", struct{}{}, r.HeartbeatTimeout)
	if rpcErr != nil {
		log.Printf("component: heartbeat failed, reconnecting: %s", rpcErr.Message)
		r.setState(Unsigned)
		r.mu.RLock()
		session := r.session
		r.mu.RUnlock()
		if session != nil {
			if err := session.Reconnect(); err != nil {
				log.Printf("component: reconnect failed: %v", err)
			}
		}
	}
}

func (r *Runtime) handleEnvelope(ctx context.Context, env *frame.ControlEnvelope) {
	if env.MessageType != frame.MessageTypeJSON || len(env.Payloads) == 0 {
		r.handleUnsolicited(env)
		return
	}

	decoded, isBatch, err := rpcmsg.DecodePayload(env.Payloads[0])
	if err != nil {
		log.Printf("component: malformed JSON-RPC payload from %s: %v", env.Sender.String(), err)
		r.replyParseError(env, err)
		return
	}

	if containsResponse(decoded) {
		r.corr.Deliver(env)
		return
	}

	expectsReply := false
	for _, d := range decoded {
		if d.Request != nil && !d.Request.IsNotification() {
			expectsReply = true
		}
	}
	if !expectsReply {
		r.handleUnsolicited(env)
		return
	}

	r.dispatchRequests(ctx, env, decoded, isBatch)
}

// replyParseError answers a malformed JSON-RPC payload with -32700, per §7:
// "reply with -32700 if a cid is known" — the envelope's conversation id
// always is.
func (r *Runtime) replyParseError(env *frame.ControlEnvelope, parseErr error) {
	resp := rpcmsg.NewErrorResponse(rpcmsg.NewNumID(0), rpcmsg.ParseErrorErr(parseErr.Error()))
	payload, err := resp.MarshalJSON()
	if err != nil {
		return
	}
	reply := &frame.ControlEnvelope{
		Receiver:       env.Sender,
		Sender:         r.FullName(),
		ConversationID: env.ConversationID,
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}
	r.mu.RLock()
	session := r.session
	r.mu.RUnlock()
	if session == nil {
		return
	}
	if err := session.Send(reply); err != nil {
		log.Printf("component: failed to send parse-error reply: %v", err)
	}
}

func containsResponse(decoded []rpcmsg.Decoded) bool {
	for _, d := range decoded {
		if d.Response != nil {
			return true
		}
	}
	return false
}

// dispatchRequests runs every request in decoded through the local dispatch
// chain (rpcmiddleware.Logging + Timeout wrapping the method registry) and
// sends back a single envelope carrying the responses (one object, or a
// batch array, matching the shape of the incoming payload via isBatch),
// swapping sender/receiver and reusing the incoming conversation id.
// Notifications produce no response entry, per §7.
func (r *Runtime) dispatchRequests(ctx context.Context, env *frame.ControlEnvelope, decoded []rpcmsg.Decoded, isBatch bool) {
	responses := make([]json.Marshaler, 0, len(decoded))
	for _, d := range decoded {
		if d.Request == nil {
			continue
		}
		resp := r.chain(ctx, d.Request)
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return
	}

	var payload []byte
	var err error
	if isBatch {
		payload, err = rpcmsg.EncodeBatch(responses)
	} else {
		payload, err = responses[0].MarshalJSON()
	}
	if err != nil {
		log.Printf("component: failed to encode response: %v", err)
		return
	}

	reply := &frame.ControlEnvelope{
		Receiver:       env.Sender,
		Sender:         r.FullName(),
		ConversationID: env.ConversationID,
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}

	r.mu.RLock()
	session := r.session
	r.mu.RUnlock()
	if session == nil {
		return
	}
	if err := session.Send(reply); err != nil {
		log.Printf("component: failed to send reply: %v", err)
	}
}
