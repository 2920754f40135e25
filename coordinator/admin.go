package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"leco/fullname"
	"leco/identity"
	"leco/rpcmsg"
)

// marshalResult encodes v as an RPC result, translating a marshal failure
// (which should never happen for the fixed reply shapes in this file) into
// an internal-error wire response instead of a Go error.
func marshalResult(v any) (json.RawMessage, *rpcmsg.Error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, rpcmsg.InternalErrorErr(err.Error())
	}
	return b, nil
}

// callAdmin dispatches one administrative RPC request (§4.6.2) on behalf of
// cs. It is the Coordinator-side counterpart of methods.Registry.Call, but
// several of these methods mutate directory state keyed by the calling
// connection's identity, which a stateless registry cannot express.
func (c *Coordinator) callAdmin(cs *connState, ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
	var result json.RawMessage
	var rpcErr *rpcmsg.Error

	switch req.Method {
	case "sign_in":
		result, rpcErr = c.handleSignIn(cs, req.Params)
	case "sign_out":
		result, rpcErr = c.handleSignOut(cs, req.Params)
	case "pong":
		result, rpcErr = c.handlePong(cs, req.Params)
	case "send_local_components":
		result, rpcErr = c.handleSendLocalComponents(req.Params)
	case "send_nodes":
		result, rpcErr = c.handleSendNodes(req.Params)
	case "add_nodes":
		result, rpcErr = c.handleAddNodes(req.Params)
	case "coordinator_sign_in":
		result, rpcErr = c.handleCoordinatorSignIn(cs, req.Params)
	case "set_nodes":
		result, rpcErr = c.handleSetNodes(req.Params)
	case "set_local_components":
		result, rpcErr = c.handleSetLocalComponents(cs, req.Params)
	default:
		rpcErr = rpcmsg.MethodNotFoundErr(req.Method)
	}

	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return rpcmsg.NewErrorResponse(*req.ID, rpcErr)
	}
	return rpcmsg.NewResultResponse(*req.ID, result)
}

type signInReply struct {
	FullName string `json:"full_name"`
}

// handleSignIn creates a ComponentRecord from the caller's connection
// identity and the local name it announces via the envelope sender (the
// envelope-level sender is threaded in by routing.go via
// cs.setPendingLocalName, set immediately before this call). Uniqueness is
// enforced per §4.6.2; a collision against a still-healthy record fails
// with -32091, but a stale record (identity churn, §4.6.4) is evicted and
// replaced.
func (c *Coordinator) handleSignIn(cs *connState, _ json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	localName := cs.pendingLocalName()
	if localName == "" {
		return nil, rpcmsg.InvalidRequestErr("sign_in: sender local name is empty")
	}

	c.mu.Lock()
	if existing, ok := c.localDir[localName]; ok {
		if existing.Identity.Equal(cs.identity) {
			c.mu.Unlock()
			return marshalResult(signInReply{FullName: fullname.FullName{Namespace: c.Namespace, Local: localName}.String()})
		}
		if time.Since(existing.LastHeartbeat) < c.HeartbeatStale {
			c.mu.Unlock()
			return nil, rpcmsg.DuplicateNameErr(localName)
		}
		// stale record: treat as a fresh sign-in, per §4.6.4.
	}
	c.localDir[localName] = &ComponentRecord{
		LocalName:     localName,
		Identity:      cs.identity,
		LastHeartbeat: time.Now(),
	}
	c.mu.Unlock()

	cs.setComponent(localName)
	go c.replicateNodes()
	go c.pushLocalComponents()
	return marshalResult(signInReply{FullName: fullname.FullName{Namespace: c.Namespace, Local: localName}.String()})
}

type signOutReply struct{}

// handleSignOut removes the caller's ComponentRecord iff the stored identity
// matches the calling connection, per §4.6.2 and Testable Property 6.
func (c *Coordinator) handleSignOut(cs *connState, _ json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	_, localName, _ := cs.snapshot()
	if localName == "" {
		return nil, rpcmsg.NotSignedInErr()
	}
	c.removeComponentByIdentity(localName, cs.identity)
	go c.replicateNodes()
	go c.pushLocalComponents()
	return marshalResult(signOutReply{})
}

// removeComponentByIdentity deletes the directory entry for localName only
// if its recorded identity matches id, otherwise it is a silent no-op
// (Testable Property 6).
func (c *Coordinator) removeComponentByIdentity(localName string, id identity.Identity) {
	if localName == "" {
		return
	}
	c.mu.Lock()
	if rec, ok := c.localDir[localName]; ok && rec.Identity.Equal(id) {
		delete(c.localDir, localName)
	}
	c.mu.Unlock()
}

type pongReply struct{}

func (c *Coordinator) handlePong(cs *connState, _ json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	kind, localName, peerNS := cs.snapshot()
	now := time.Now()
	c.mu.Lock()
	switch kind {
	case connKindComponent:
		if rec, ok := c.localDir[localName]; ok {
			rec.LastHeartbeat = now
		}
	case connKindPeerIn:
		if rec, ok := c.peers[peerNS]; ok {
			rec.LastHeartbeat = now
		}
	}
	c.mu.Unlock()
	return marshalResult(pongReply{})
}

func (c *Coordinator) handleSendLocalComponents(_ json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	c.mu.RLock()
	names := make([]string, 0, len(c.localDir))
	for name := range c.localDir {
		names = append(names, name)
	}
	c.mu.RUnlock()
	return marshalResult(names)
}

func (c *Coordinator) handleSendNodes(_ json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	c.mu.RLock()
	out := make(map[string]string, len(c.peers))
	for ns, rec := range c.peers {
		out[ns] = rec.Address
	}
	c.mu.RUnlock()
	return marshalResult(out)
}

type addNodesArgs map[string]string

// handleAddNodes initiates peer sign-in to each namespace not already
// known; existing entries are left untouched, per §4.6.2.
func (c *Coordinator) handleAddNodes(params json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	var args addNodesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}
	c.AddPeers(args)
	return marshalResult(struct{}{})
}

// AddPeers is the exported form of add_nodes (§4.6.2), usable directly by
// cmd/coordinator to seed peers named on its command line before any admin
// RPC has arrived.
func (c *Coordinator) AddPeers(peers map[string]string) {
	for ns, addr := range peers {
		c.mu.Lock()
		_, exists := c.peers[ns]
		if !exists {
			c.peers[ns] = &PeerRecord{Namespace: ns, Address: addr}
		}
		c.mu.Unlock()
		if !exists {
			go c.connectToPeer(ns, addr)
		}
	}
}

type coordinatorSignInArgs struct {
	Namespace string `json:"namespace"`
	Address   string `json:"address"`
}
type coordinatorSignInReply struct {
	Namespace string `json:"namespace"`
}

// handleCoordinatorSignIn is the peer-side counterpart of sign_in (§4.6.2):
// it registers the inbound identity as IdentityIn for the caller's
// namespace and records its dialable address, so transitive dial-back
// (§4.6.3) can reach it later.
func (c *Coordinator) handleCoordinatorSignIn(cs *connState, params json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	var args coordinatorSignInArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}
	if args.Namespace == "" {
		return nil, rpcmsg.InvalidRequestErr("coordinator_sign_in: empty namespace")
	}

	isNewPeer := false
	c.mu.Lock()
	rec, ok := c.peers[args.Namespace]
	if !ok {
		rec = &PeerRecord{Namespace: args.Namespace, Address: args.Address}
		c.peers[args.Namespace] = rec
		isNewPeer = true
	} else if rec.Address == "" {
		rec.Address = args.Address
	}
	rec.IdentityIn = cs.identity
	rec.SignedInIn = true
	rec.LastHeartbeat = time.Now()
	c.mu.Unlock()

	cs.setPeer(args.Namespace)

	if isNewPeer && args.Address != "" {
		go c.connectToPeer(args.Namespace, args.Address)
	}
	go c.exchangeNodes(args.Namespace)

	return marshalResult(coordinatorSignInReply{Namespace: c.Namespace})
}

// handleSetNodes merges the sender's peer map into ours (§4.6.3: idempotent
// directory replication). Previously-unknown namespaces trigger a
// background coordinator_sign_in so the mesh becomes fully connected by
// transitive advertisement.
func (c *Coordinator) handleSetNodes(params json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	var args addNodesArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}
	var newlyKnown []string
	c.mu.Lock()
	for ns, addr := range args {
		if ns == c.Namespace {
			continue
		}
		if _, ok := c.peers[ns]; !ok {
			c.peers[ns] = &PeerRecord{Namespace: ns, Address: addr}
			newlyKnown = append(newlyKnown, ns)
		}
	}
	c.mu.Unlock()
	if c.Store != nil {
		c.persistPeers()
	}
	for _, ns := range newlyKnown {
		c.mu.RLock()
		addr := c.peers[ns].Address
		c.mu.RUnlock()
		if addr != "" {
			go c.connectToPeer(ns, addr)
		}
	}
	return marshalResult(struct{}{})
}

// handleSetLocalComponents caches the calling peer's local directory
// (§9 Open Question, eager-push half of the decision recorded in
// DESIGN.md). The cache is refreshed on demand by refreshRemoteComponents
// when a route check finds a name missing from it.
func (c *Coordinator) handleSetLocalComponents(cs *connState, params json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	var names []string
	if err := json.Unmarshal(params, &names); err != nil {
		return nil, rpcmsg.InvalidParamsErr(err.Error())
	}
	_, _, peerNS := cs.snapshot()
	if peerNS == "" {
		return marshalResult(struct{}{})
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	c.mu.Lock()
	c.remoteDir[peerNS] = set
	c.mu.Unlock()
	return marshalResult(struct{}{})
}
