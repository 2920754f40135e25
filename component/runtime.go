// Package component implements the Component runtime: the machinery shared
// by every process that joins a LECO control-plane network — instrument
// controllers, data loggers, scripts, GUIs.
//
// It owns a single rpctransport.Session, a correlate.Buffer for matching
// replies to awaited requests, a methods.Registry of locally exposed RPC
// methods, and the sign-in state machine of §4.5. The dispatch loop
// (Run) is the one place that reads the transport; everything else
// (Ask, heartbeats) submits work through the thread-safe correlation
// buffer, per §5's single-owner-thread rule.
package component

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"leco/correlate"
	"leco/frame"
	"leco/fullname"
	"leco/methods"
	"leco/rpcmiddleware"
	"leco/rpcmsg"
	"leco/rpctransport"
)

// Default heartbeat cadence, per §9's recommendation. Both are
// configurable via Runtime fields.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second

	// DefaultDispatchTimeout bounds how long a single incoming RPC may hold
	// the dispatch loop, per §5's "no user-defined code may hold the owner
	// thread beyond a single RPC dispatch" — the same protection the
	// Coordinator's admin chain gives itself.
	DefaultDispatchTimeout = 5 * time.Second
)

// AsyncHandler processes a notification or an orphaned response — any
// envelope that is neither an awaited reply nor a dispatchable request.
// The default implementation logs and drops it.
type AsyncHandler func(env *frame.ControlEnvelope)

// Runtime is the Component-side control-plane participant.
type Runtime struct {
	host string
	port int

	mu       sync.RWMutex
	name     string // requested local name, pre sign-in
	full     fullname.FullName
	state    State
	lastSeen time.Time

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	session *rpctransport.Session
	corr    *correlate.Buffer
	methods *methods.Registry
	chain   rpcmiddleware.HandlerFunc // local dispatch chain wrapping methods.Call

	AsyncHandler AsyncHandler

	stop chan struct{}
	once sync.Once
}

// New creates a Runtime that will connect to a Coordinator at host:port
// under the requested local name. The name's namespace, if any, is sent
// as a hint; the Coordinator may return a corrected full name on sign-in.
func New(host string, port int, name string) *Runtime {
	r := &Runtime{
		host:              host,
		port:              port,
		name:              name,
		state:             Unsigned,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		corr:              correlate.New(),
		methods:           methods.New(),
		stop:              make(chan struct{}),
	}
	r.corr.Unsolicited = r.handleUnsolicited
	r.chain = rpcmiddleware.Chain(
		rpcmiddleware.Logging("component:"),
		rpcmiddleware.Timeout(DefaultDispatchTimeout),
	)(r.callMethod)
	return r
}

// callMethod is the innermost handler of the dispatch chain: it runs a
// request through the local method registry with no cross-cutting concerns
// of its own.
func (r *Runtime) callMethod(_ context.Context, req *rpcmsg.Request) *rpcmsg.Response {
	result, rpcErr := r.methods.Call(req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return rpcmsg.NewErrorResponse(*req.ID, rpcErr)
	}
	return rpcmsg.NewResultResponse(*req.ID, result)
}

// RegisterMethod exposes a struct's RPC-compatible methods (per
// methods.Registry.Register) so remote Components can call them via Ask.
func (r *Runtime) RegisterMethod(rcvr any) error {
	return r.methods.Register(rcvr)
}

// RegisterNamed exposes a single bound method under an explicit wire name
// (per methods.Registry.RegisterNamed), for names that aren't valid
// exported Go identifiers — e.g. the actor package's "get_parameters".
func (r *Runtime) RegisterNamed(name string, fn any) error {
	return r.methods.RegisterNamed(name, fn)
}

// FullName returns the Component's current full name, valid once Signed.
func (r *Runtime) FullName() fullname.FullName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.full
}

// State returns the current sign-in state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runtime) touch() {
	r.mu.Lock()
	r.lastSeen = time.Now()
	r.mu.Unlock()
}

func (r *Runtime) idleFor() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.lastSeen)
}

// Connect dials the Coordinator. Must be called before SignIn.
func (r *Runtime) Connect() error {
	s, err := rpctransport.Dial(r.host, r.port)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()
	r.touch()
	return nil
}

// signInArgs/Reply mirror the wire shape of the Coordinator's sign_in RPC.
type signInArgs struct{}
type signInReply struct {
	FullName string `json:"full_name"`
}

// SignIn performs the sign-in handshake (§4.5). On success the runtime
// adopts any corrected full name the Coordinator returns and transitions
// to Signed.
func (r *Runtime) SignIn(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	local := r.name
	r.state = SigningIn
	r.full = fullname.FullName{Local: local} // announced via the envelope Sender until the Coordinator confirms it
	r.mu.Unlock()

	coordinator := fullname.Coordinator("") // namespace unknown pre sign-in; Coordinator fills it in
	result, rpcErr := r.ask(ctx, coordinator, "sign_in", signInArgs{}, timeout)
	if rpcErr != nil {
		r.setState(UnsignedFailed)
		return fmt.Errorf("component: sign_in failed: %s", rpcErr.Message)
	}

	var reply signInReply
	if err := json.Unmarshal(result, &reply); err != nil {
		r.setState(UnsignedFailed)
		return fmt.Errorf("component: sign_in reply malformed: %w", err)
	}

	full, err := fullname.Parse(reply.FullName)
	if err != nil {
		r.setState(UnsignedFailed)
		return fmt.Errorf("component: sign_in returned invalid full name: %w", err)
	}
	if full.Local == "" {
		full.Local = local
	}

	r.mu.Lock()
	r.full = full
	r.state = Signed
	r.mu.Unlock()
	r.touch()
	return nil
}

type signOutArgs struct{}
type signOutReply struct{}

// SignOut notifies the Coordinator and transitions back to Unsigned
// regardless of the RPC outcome — per §4.5, a connection loss also forces
// this transition, so SignOut must not get stuck waiting on a connection
// that may already be half-dead.
func (r *Runtime) SignOut(ctx context.Context, timeout time.Duration) error {
	full := r.FullName()
	_, rpcErr := r.ask(ctx, fullname.Coordinator(full.Namespace), "sign_out", signOutArgs{}, timeout)
	r.setState(Unsigned)
	if rpcErr != nil {
		return fmt.Errorf("component: sign_out: %s", rpcErr.Message)
	}
	return nil
}

// Close tears down the dispatch loop and the underlying connection. Safe
// to call multiple times.
func (r *Runtime) Close() error {
	r.once.Do(func() { close(r.stop) })
	r.mu.RLock()
	s := r.session
	r.mu.RUnlock()
	if s != nil {
		return s.Close()
	}
	return nil
}

func (r *Runtime) handleUnsolicited(env *frame.ControlEnvelope) {
	if r.AsyncHandler != nil {
		r.AsyncHandler(env)
		return
	}
	log.Printf("component: dropped unsolicited message from %s (cid=%x)", env.Sender.String(), env.ConversationID)
}

// identityLabel is used only for log lines; the routing-authoritative
// identity lives on the Coordinator side.
func (r *Runtime) identityLabel() string {
	r.mu.RLock()
	s := r.session
	r.mu.RUnlock()
	if s == nil {
		return "<unconnected>"
	}
	return s.Identity().String()
}
