package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"net"

	"leco/frame"
	"leco/fullname"
	"leco/rpcmsg"
)

// handleConn runs the read loop for one accepted connection: decode an
// envelope, route it, repeat, until the connection errors or closes. This
// generalizes the teacher's handleConn (one goroutine per connection,
// sequential reads, shared write mutex) to a router that forwards frames
// it does not address itself, rather than only answering its own RPCs.
func (c *Coordinator) handleConn(conn net.Conn) {
	cs := c.registerConn(conn)
	c.serveConn(cs)
}

// serveConn runs the shared read loop for any registered connection,
// whether it was accepted (Component or peer-in) or dialed out to a peer
// (peerlink.go), so both directions of a peer link forward through the
// same routing path.
func (c *Coordinator) serveConn(cs *connState) {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.unregisterConn(cs)
		cs.conn.Close()
	}()

	for {
		env, err := frame.DecodeControl(cs.conn)
		if err != nil {
			if err != frame.ErrNoFrames {
				log.Printf("coordinator: decode error from %s: %v", cs.identity.String(), err)
			}
			return
		}
		c.routeEnvelope(cs, env)
	}
}

// routeEnvelope implements §4.6.1: address resolution, pre-sign-in policy,
// local dispatch/forwarding, and peer forwarding.
func (c *Coordinator) routeEnvelope(cs *connState, env *frame.ControlEnvelope) {
	env.Receiver = c.resolve(env.Receiver)
	env.Sender = c.resolve(env.Sender)

	var decoded []rpcmsg.Decoded
	var isBatch bool
	if env.MessageType == frame.MessageTypeJSON && len(env.Payloads) > 0 {
		d, batch, err := rpcmsg.DecodePayload(env.Payloads[0])
		if err != nil {
			// §7: "Parse error in JSON | reply with -32700 if a cid is
			// known" — the conversation id is always known at this layer.
			c.sendBack(cs, env, []json.Marshaler{rpcmsg.NewErrorResponse(rpcmsg.NewNumID(0), rpcmsg.ParseErrorErr(err.Error()))}, false)
			return
		}
		decoded = d
		isBatch = batch
	}
	isResponse := containsOnlyResponses(decoded)

	if !isResponse {
		if policyErr := c.checkPreSignIn(cs, decoded); policyErr != nil {
			c.replyError(cs, env, decoded, isBatch, policyErr)
			return
		}
	}

	if env.Receiver.Namespace == c.Namespace {
		if env.Receiver.IsCoordinator() {
			if isResponse {
				c.peerCorr.Deliver(env)
				return
			}
			c.dispatchLocal(cs, env, decoded, isBatch)
			return
		}
		c.mu.RLock()
		rec, ok := c.localDir[env.Receiver.Local]
		c.mu.RUnlock()
		if !ok {
			if isResponse {
				return // §4.6.4: unknown conversation in response direction, drop
			}
			c.replyError(cs, env, decoded, isBatch, rpcmsg.ReceiverUnknownErr(env.Receiver.String()))
			return
		}
		target, ok := c.connByIdentity(rec.Identity)
		if !ok {
			if isResponse {
				return
			}
			c.replyError(cs, env, decoded, isBatch, rpcmsg.ReceiverUnknownErr(env.Receiver.String()))
			return
		}
		c.forward(target, env)
		return
	}

	c.mu.RLock()
	peer, ok := c.peers[env.Receiver.Namespace]
	c.mu.RUnlock()
	if !ok || !peer.Healthy(c.HeartbeatStale) {
		if isResponse {
			return
		}
		c.replyError(cs, env, decoded, isBatch, rpcmsg.NodeUnknownErr(env.Receiver.Namespace))
		return
	}

	c.mu.RLock()
	link, ok := c.peerSession[env.Receiver.Namespace]
	c.mu.RUnlock()
	if !ok {
		if isResponse {
			return
		}
		c.replyError(cs, env, decoded, isBatch, rpcmsg.NodeUnknownErr(env.Receiver.Namespace))
		return
	}

	if !isResponse {
		if known, cached := c.knownRemote(env.Receiver.Namespace, env.Receiver.Local); cached && !known {
			if c.refreshRemoteComponents(env.Receiver.Namespace) {
				known, cached = c.knownRemote(env.Receiver.Namespace, env.Receiver.Local)
			}
			if cached && !known {
				c.replyError(cs, env, decoded, isBatch, rpcmsg.ReceiverUnknownErr(env.Receiver.String()))
				return
			}
		}
	}

	if err := c.sendOnLink(link, env); err != nil {
		c.markPeerUnhealthy(env.Receiver.Namespace)
		go c.reconnectPeer(env.Receiver.Namespace)
		if !isResponse {
			c.replyError(cs, env, decoded, isBatch, rpcmsg.NodeUnknownErr(env.Receiver.Namespace))
		}
	}
}

func containsOnlyResponses(decoded []rpcmsg.Decoded) bool {
	if len(decoded) == 0 {
		return false
	}
	for _, d := range decoded {
		if d.Response == nil {
			return false
		}
	}
	return true
}

// checkPreSignIn enforces §4.6.1: before a Component has completed
// sign_in, only sign_in and pong (plus coordinator_sign_in, which a peer
// Coordinator sends first on a new link) may be routed FROM it. Peer-in
// connections and already-signed-in Components bypass this check.
func (c *Coordinator) checkPreSignIn(cs *connState, decoded []rpcmsg.Decoded) *rpcmsg.Error {
	kind, _, _ := cs.snapshot()
	if kind == connKindComponent || kind == connKindPeerIn {
		return nil
	}
	for _, d := range decoded {
		if d.Request == nil {
			continue
		}
		switch d.Request.Method {
		case "sign_in", "pong", "coordinator_sign_in":
			continue
		default:
			return rpcmsg.NotSignedInErr()
		}
	}
	return nil
}

// dispatchLocal runs every request addressed to this Coordinator's own
// <ns>.COORDINATOR through the administrative dispatch chain and replies
// with the matching response shape (single object or batch array),
// mirroring component.Runtime.dispatchRequests.
func (c *Coordinator) dispatchLocal(cs *connState, env *frame.ControlEnvelope, decoded []rpcmsg.Decoded, isBatch bool) {
	responses := make([]json.Marshaler, 0, len(decoded))
	for _, d := range decoded {
		if d.Request == nil {
			continue
		}
		req := d.Request
		if req.Method == "sign_in" {
			cs.setPendingLocalName(env.Sender.Local)
		}
		resp := cs.chain(context.Background(), req)
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return
	}
	c.sendBack(cs, env, responses, isBatch)
}

// replyError sends an error response for every request id found in decoded
// (skipping notifications), addressed back along the connection the
// offending envelope arrived on. isBatch preserves the original payload's
// array-vs-object shape, per §7.
func (c *Coordinator) replyError(cs *connState, env *frame.ControlEnvelope, decoded []rpcmsg.Decoded, isBatch bool, rpcErr *rpcmsg.Error) {
	responses := make([]json.Marshaler, 0, len(decoded))
	for _, d := range decoded {
		if d.Request == nil || d.Request.IsNotification() {
			continue
		}
		responses = append(responses, rpcmsg.NewErrorResponse(*d.Request.ID, rpcErr))
	}
	if len(responses) == 0 {
		return
	}
	c.sendBack(cs, env, responses, isBatch)
}

// sendBack encodes responses per the original request's array-vs-object
// shape (isBatch), not by counting responses — a one-element batch must
// come back as a one-element array, never unwrapped into a bare object.
func (c *Coordinator) sendBack(cs *connState, env *frame.ControlEnvelope, responses []json.Marshaler, isBatch bool) {
	var payload []byte
	var err error
	if isBatch {
		payload, err = rpcmsg.EncodeBatch(responses)
	} else {
		payload, err = responses[0].MarshalJSON()
	}
	if err != nil {
		log.Printf("coordinator: failed to encode response: %v", err)
		return
	}

	reply := &frame.ControlEnvelope{
		Receiver:       env.Sender,
		Sender:         fullname.Coordinator(c.Namespace),
		ConversationID: env.ConversationID,
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if err := frame.EncodeControl(cs.conn, reply); err != nil {
		log.Printf("coordinator: failed to write reply: %v", err)
	}
}

// forward writes env verbatim to target's connection, guarded by its write
// mutex so concurrent forwards/replies never interleave frames.
func (c *Coordinator) forward(target *connState, env *frame.ControlEnvelope) {
	target.writeMu.Lock()
	defer target.writeMu.Unlock()
	if err := frame.EncodeControl(target.conn, env); err != nil {
		log.Printf("coordinator: forward to %s failed: %v", target.identity.String(), err)
	}
}

// sendOnLink writes env on a peer link's outbound connection (§4.6.1:
// "forward on the outbound peer identity").
func (c *Coordinator) sendOnLink(link *peerLink, env *frame.ControlEnvelope) error {
	link.cs.writeMu.Lock()
	defer link.cs.writeMu.Unlock()
	return frame.EncodeControl(link.cs.conn, env)
}
