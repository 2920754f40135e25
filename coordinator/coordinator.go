// Package coordinator implements the LECO Coordinator: the message router
// that maintains a local directory of connected Components, federates with
// peer Coordinators to form a multi-namespace mesh, validates and rewrites
// addressing on every frame, and enforces the sign-in/sign-out lifecycle.
//
// Its connection handling generalizes the teacher framework's Accept-loop
// server (one goroutine per connection doing sequential reads, a
// per-connection write mutex guarding concurrent replies, wg-tracked
// graceful shutdown) from an RPC server answering only its own registered
// services to a full router that also forwards frames it does not address
// itself.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"leco/correlate"
	"leco/frame"
	"leco/fullname"
	"leco/identity"
	"leco/rpcmiddleware"
	"leco/rpcmsg"
)

// Default peer-link staleness window, per §9.
const HeartbeatStale = 30 * time.Second

// connKind distinguishes how an accepted connection is being used so
// routing and cleanup know what directory entries to touch.
type connKind int

const (
	connKindUnidentified connKind = iota
	connKindComponent
	connKindPeerIn
)

// connState tracks one accepted (or dialed) TCP connection and the
// per-connection write lock that prevents frame interleaving, matching
// the teacher's handleConn/writeMu pattern.
type connState struct {
	conn     net.Conn
	writeMu  sync.Mutex
	identity identity.Identity
	chain    rpcmiddleware.HandlerFunc // admin dispatch chain bound to this connection's identity

	mu          sync.Mutex
	kind        connKind
	localName   string // set once this connection signs in as a Component
	peerNS      string // set once this connection signs in as a peer
	pendingName string // sender.local from the envelope currently being dispatched
}

// setPendingLocalName stashes the envelope sender's local name for the
// duration of one sign_in dispatch, since the sign_in RPC itself carries no
// arguments — the requested name travels as the frame's sender address.
func (c *connState) setPendingLocalName(name string) {
	c.mu.Lock()
	c.pendingName = name
	c.mu.Unlock()
}

func (c *connState) pendingLocalName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingName
}

func (c *connState) setComponent(localName string) {
	c.mu.Lock()
	c.kind = connKindComponent
	c.localName = localName
	c.mu.Unlock()
}

func (c *connState) setPeer(ns string) {
	c.mu.Lock()
	c.kind = connKindPeerIn
	c.peerNS = ns
	c.mu.Unlock()
}

func (c *connState) snapshot() (connKind, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.localName, c.peerNS
}

// Coordinator routes control-plane frames within its own namespace and
// across a mesh of peer Coordinators.
type Coordinator struct {
	Namespace string
	Address   string // this Coordinator's own dialable host:port

	HeartbeatStale time.Duration

	mu          sync.RWMutex
	localDir    map[string]*ComponentRecord    // local name -> record
	peers       map[string]*PeerRecord         // namespace -> record
	remoteDir   map[string]map[string]bool     // namespace -> set of remote local names, from set_local_components
	conns       map[string]*connState          // identity key -> conn
	peerSession map[string]*peerLink           // namespace -> outbound link

	// peerCorr correlates responses to RPCs this Coordinator itself issues
	// to peer Coordinators (send_nodes exchange on new peer links, §4.6.3).
	peerCorr *correlate.Buffer

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
	stopCh   chan struct{}

	// Store, if set, persists the peer table so a restarted Coordinator
	// does not lose its mesh. Optional — nil means pure in-memory per
	// spec §3.
	Store PeerStore
}

// New creates a Coordinator for the given namespace and dialable address
// (used when advertising ourselves to peers during coordinator_sign_in).
func New(namespace, address string) *Coordinator {
	c := &Coordinator{
		Namespace:      namespace,
		Address:        address,
		HeartbeatStale: HeartbeatStale,
		localDir:       make(map[string]*ComponentRecord),
		peers:          make(map[string]*PeerRecord),
		remoteDir:      make(map[string]map[string]bool),
		conns:          make(map[string]*connState),
		peerSession:    make(map[string]*peerLink),
		peerCorr:       correlate.New(),
		stopCh:         make(chan struct{}),
	}
	c.peerCorr.Unsolicited = func(env *frame.ControlEnvelope) {
		log.Printf("coordinator: dropped unsolicited peer reply from %s", env.Sender.String())
	}
	return c
}

// ListenAndServe binds the control-plane listener and runs the Accept loop
// until Shutdown is called or a fatal accept error occurs.
func (c *Coordinator) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("coordinator: bind: %w", err)
	}
	c.listener = ln

	if c.Store != nil {
		if peers, err := c.Store.Load(context.Background()); err == nil {
			c.mu.Lock()
			for ns, addr := range peers {
				if _, exists := c.peers[ns]; !exists {
					c.peers[ns] = &PeerRecord{Namespace: ns, Address: addr}
				}
			}
			c.mu.Unlock()
			for ns, rec := range c.peers {
				go c.connectToPeer(ns, rec.Address)
			}
		} else {
			log.Printf("coordinator: peer store load failed: %v", err)
		}
		go c.watchPeers()
	}

	go c.heartbeatSweep()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if c.shutdown.Load() {
				return nil
			}
			return err
		}
		go c.handleConn(conn)
	}
}

// Shutdown stops accepting connections and waits (up to timeout) for
// in-flight dispatches to finish, matching the teacher's Shutdown.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	if c.shutdown.Swap(true) {
		return nil // already shut down
	}
	close(c.stopCh)
	if c.listener != nil {
		c.listener.Close()
	}

	c.mu.Lock()
	for _, link := range c.peerSession {
		link.cs.conn.Close()
	}
	for _, cs := range c.conns {
		cs.conn.Close()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("coordinator: timeout waiting for in-flight requests")
	}
}

// registerConn assigns a fresh identity to an accepted connection and adds
// it to the connection table.
func (c *Coordinator) registerConn(conn net.Conn) *connState {
	cs := &connState{conn: conn, identity: identity.New()}
	cs.chain = rpcmiddleware.Chain(
		rpcmiddleware.Logging("coordinator:"),
		rpcmiddleware.RateLimit(50, 20),
		rpcmiddleware.Timeout(5*time.Second),
	)(func(ctx context.Context, req *rpcmsg.Request) *rpcmsg.Response {
		return c.callAdmin(cs, ctx, req)
	})
	c.mu.Lock()
	c.conns[cs.identity.Key()] = cs
	c.mu.Unlock()
	return cs
}

func (c *Coordinator) unregisterConn(cs *connState) {
	c.mu.Lock()
	delete(c.conns, cs.identity.Key())
	kind, localName, peerNS := cs.snapshot()
	c.mu.Unlock()

	switch kind {
	case connKindComponent:
		c.removeComponentByIdentity(localName, cs.identity)
	case connKindPeerIn:
		c.mu.Lock()
		if rec, ok := c.peers[peerNS]; ok {
			if rec.IdentityIn.Equal(cs.identity) {
				rec.SignedInIn = false
			}
			if rec.IdentityOut.Equal(cs.identity) {
				rec.SignedInOut = false
				delete(c.peerSession, peerNS)
			}
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) connByIdentity(id identity.Identity) (*connState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cs, ok := c.conns[id.Key()]
	return cs, ok
}

// resolve fills in an empty namespace of a full name with our own
// namespace, per §6 addressing rules.
func (c *Coordinator) resolve(f fullname.FullName) fullname.FullName {
	return f.WithDefaultNamespace(c.Namespace)
}
