package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"leco/frame"
	"leco/fullname"
	"leco/identity"
	"leco/rpcmsg"
)

// peerLink is our outbound half of a peer connection: every peer link is
// two independent unidirectional TCP connections (§3), one we dial and one
// the peer dials to us. This wraps the dialed side.
type peerLink struct {
	cs *connState
}

// connectToPeer dials addr, performs coordinator_sign_in, and starts this
// connection's own read loop so forwarded frames and RPC replies coming
// back from the peer are routed normally.
func (c *Coordinator) connectToPeer(ns, addr string) {
	if ns == c.Namespace || addr == "" {
		return
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Printf("coordinator: dial peer %s at %s failed: %v", ns, addr, err)
		return
	}

	cs := c.registerConn(conn)
	cs.setPeer(ns)

	c.mu.Lock()
	c.peerSession[ns] = &peerLink{cs: cs}
	rec, ok := c.peers[ns]
	if !ok {
		rec = &PeerRecord{Namespace: ns, Address: addr}
		c.peers[ns] = rec
	}
	rec.Address = addr
	rec.IdentityOut = cs.identity
	rec.SignedInOut = true
	rec.LastHeartbeat = time.Now()
	c.mu.Unlock()

	go c.serveConn(cs)

	args, _ := json.Marshal(coordinatorSignInArgs{Namespace: c.Namespace, Address: c.Address})
	if _, rpcErr := c.peerAsk(ns, "coordinator_sign_in", args, 5*time.Second); rpcErr != nil {
		log.Printf("coordinator: coordinator_sign_in to %s failed: %s", ns, rpcErr.Message)
	}

	go c.exchangeNodes(ns)
}

// reconnectPeer retries a lost outbound peer connection once, matching the
// "attempt reconnect in background" policy of §4.6.4.
func (c *Coordinator) reconnectPeer(ns string) {
	c.mu.RLock()
	rec, ok := c.peers[ns]
	c.mu.RUnlock()
	if !ok || rec.Address == "" {
		return
	}
	c.connectToPeer(ns, rec.Address)
}

func (c *Coordinator) markPeerUnhealthy(ns string) {
	c.mu.Lock()
	if rec, ok := c.peers[ns]; ok {
		rec.SignedInOut = false
	}
	delete(c.peerSession, ns)
	c.mu.Unlock()
}

// peerAsk sends a JSON-RPC request to the given peer namespace's
// Coordinator over our outbound link and awaits its response, using the
// same correlation-buffer pattern as component.Runtime.ask.
func (c *Coordinator) peerAsk(ns, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, *rpcmsg.Error) {
	c.mu.RLock()
	link, ok := c.peerSession[ns]
	c.mu.RUnlock()
	if !ok {
		return nil, rpcmsg.NodeUnknownErr(ns)
	}

	cid := identity.NewConversationID()
	req := rpcmsg.NewRequest(rpcmsg.NewNumID(1), method, params)
	payload, err := req.MarshalJSON()
	if err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}

	env := &frame.ControlEnvelope{
		Receiver:       fullname.Coordinator(ns),
		Sender:         fullname.Coordinator(c.Namespace),
		ConversationID: cid,
		MessageType:    frame.MessageTypeJSON,
		Payloads:       [][]byte{payload},
	}

	slot := c.peerCorr.Expect(cid)
	link.cs.writeMu.Lock()
	err = frame.EncodeControl(link.cs.conn, env)
	link.cs.writeMu.Unlock()
	if err != nil {
		c.peerCorr.Discard(slot)
		return nil, rpcmsg.InternalErrorErr(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	replyEnv, waitErr := c.peerCorr.Await(ctx, slot)
	if waitErr != nil {
		return nil, rpcmsg.InternalErrorErr(fmt.Sprintf("peerAsk %s.%s: %v", ns, method, waitErr))
	}
	if len(replyEnv.Payloads) == 0 {
		return nil, rpcmsg.InternalErrorErr("empty peer reply")
	}
	decoded, _, err := rpcmsg.DecodePayload(replyEnv.Payloads[0])
	if err != nil || len(decoded) == 0 || decoded[0].Response == nil {
		return nil, rpcmsg.InternalErrorErr("malformed peer reply")
	}
	resp := decoded[0].Response
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// exchangeNodes fetches the peer's node map via send_nodes and merges any
// namespace we don't already know, per §4.6.3's "On peer sign-in, it
// additionally exchanges send_nodes."
func (c *Coordinator) exchangeNodes(ns string) {
	result, rpcErr := c.peerAsk(ns, "send_nodes", json.RawMessage(`{}`), 5*time.Second)
	if rpcErr != nil {
		return
	}
	var nodes map[string]string
	if err := json.Unmarshal(result, &nodes); err != nil {
		return
	}
	var fresh []struct{ ns, addr string }
	c.mu.Lock()
	for peerNS, addr := range nodes {
		if peerNS == c.Namespace {
			continue
		}
		if _, ok := c.peers[peerNS]; !ok {
			c.peers[peerNS] = &PeerRecord{Namespace: peerNS, Address: addr}
			fresh = append(fresh, struct{ ns, addr string }{peerNS, addr})
		}
	}
	c.mu.Unlock()
	for _, f := range fresh {
		if f.addr != "" {
			go c.connectToPeer(f.ns, f.addr)
		}
	}
	c.replicateNodes()
	c.pushLocalComponents()
}

// replicateNodes pushes our full peer map to every healthy peer as a
// set_nodes notification, per §4.6.3: "On every local sign-in/sign-out,
// the Coordinator sends set_nodes (the full peer map) to each healthy
// peer."
func (c *Coordinator) replicateNodes() {
	c.mu.RLock()
	nodes := make(map[string]string, len(c.peers)+1)
	nodes[c.Namespace] = c.Address
	for ns, rec := range c.peers {
		nodes[ns] = rec.Address
	}
	targets := make([]string, 0, len(c.peerSession))
	for ns, rec := range c.peers {
		if rec.Healthy(c.HeartbeatStale) {
			targets = append(targets, ns)
		}
	}
	c.mu.RUnlock()

	payload, err := json.Marshal(nodes)
	if err != nil {
		return
	}
	for _, ns := range targets {
		c.mu.RLock()
		link, ok := c.peerSession[ns]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		notif := rpcmsg.NewNotification("set_nodes", payload)
		body, err := notif.MarshalJSON()
		if err != nil {
			continue
		}
		env := &frame.ControlEnvelope{
			Receiver:       fullname.Coordinator(ns),
			Sender:         fullname.Coordinator(c.Namespace),
			ConversationID: identity.NewConversationID(),
			MessageType:    frame.MessageTypeJSON,
			Payloads:       [][]byte{body},
		}
		link.cs.writeMu.Lock()
		if err := frame.EncodeControl(link.cs.conn, env); err != nil {
			log.Printf("coordinator: replicate to %s failed: %v", ns, err)
		}
		link.cs.writeMu.Unlock()
	}
	if c.Store != nil {
		c.persistPeers()
	}
}

// pushLocalComponents sends our current local directory to every healthy
// peer as a set_local_components notification — the eager-push half of the
// §9 Open Question decision (see handleSetLocalComponents).
func (c *Coordinator) pushLocalComponents() {
	c.mu.RLock()
	names := make([]string, 0, len(c.localDir))
	for name := range c.localDir {
		names = append(names, name)
	}
	targets := make([]string, 0, len(c.peerSession))
	for ns, rec := range c.peers {
		if rec.Healthy(c.HeartbeatStale) {
			targets = append(targets, ns)
		}
	}
	c.mu.RUnlock()

	payload, err := json.Marshal(names)
	if err != nil {
		return
	}
	for _, ns := range targets {
		c.mu.RLock()
		link, ok := c.peerSession[ns]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		notif := rpcmsg.NewNotification("set_local_components", payload)
		body, err := notif.MarshalJSON()
		if err != nil {
			continue
		}
		env := &frame.ControlEnvelope{
			Receiver:       fullname.Coordinator(ns),
			Sender:         fullname.Coordinator(c.Namespace),
			ConversationID: identity.NewConversationID(),
			MessageType:    frame.MessageTypeJSON,
			Payloads:       [][]byte{body},
		}
		link.cs.writeMu.Lock()
		err = frame.EncodeControl(link.cs.conn, env)
		link.cs.writeMu.Unlock()
		if err != nil {
			log.Printf("coordinator: push local components to %s failed: %v", ns, err)
		}
	}
}

// knownRemote reports whether local is known to be present in namespace
// ns's remote directory cache, and whether that cache exists at all.
func (c *Coordinator) knownRemote(ns, local string) (known, cached bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.remoteDir[ns]
	if !ok {
		return false, false
	}
	return set[local], true
}

// refreshRemoteComponents queries ns's Coordinator for its current local
// directory and replaces our cached copy — the on-demand half of the §9
// Open Question decision, used as a fallback when the eager cache misses.
func (c *Coordinator) refreshRemoteComponents(ns string) bool {
	result, rpcErr := c.peerAsk(ns, "send_local_components", json.RawMessage(`{}`), 2*time.Second)
	if rpcErr != nil {
		return false
	}
	var names []string
	if err := json.Unmarshal(result, &names); err != nil {
		return false
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	c.mu.Lock()
	c.remoteDir[ns] = set
	c.mu.Unlock()
	return true
}
