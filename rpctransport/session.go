// Package rpctransport implements the Component-side transport session: a
// single dealer-style TCP connection to one Coordinator, with a background
// receive loop feeding a bounded inbound queue and a write path guarded
// against interleaving.
//
// This generalizes the multiplexed client transport pattern (one recvLoop
// goroutine demultiplexing responses by a correlation key, one sending
// mutex serializing writes) from sequence-number keying to conversation-id
// keying, and drops the request/response channel-per-call bookkeeping
// since that responsibility belongs to the correlation buffer, not the
// transport.
package rpctransport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"leco/frame"
	"leco/identity"
)

// Session owns one TCP connection to a Coordinator. It does not interpret
// payloads: it only knows how to send and receive ControlEnvelopes.
type Session struct {
	host string
	port int

	mu       sync.Mutex // guards conn and writes to it
	conn     net.Conn
	identity identity.Identity

	inbox  chan *frame.ControlEnvelope
	errc   chan error
	closed chan struct{}
	once   sync.Once
}

// Dial opens a new session to host:port.
func Dial(host string, port int) (*Session, error) {
	s := &Session{host: host, port: port}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect() error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.identity = identity.New()
	s.mu.Unlock()

	s.inbox = make(chan *frame.ControlEnvelope, 64)
	s.errc = make(chan error, 1)
	s.closed = make(chan struct{})
	s.once = sync.Once{}
	go s.recvLoop(conn)
	return nil
}

// Identity returns this session's current local identity label (for
// diagnostics/reconnect bookkeeping; the authoritative routing identity is
// held by the Coordinator that accepted this connection).
func (s *Session) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Send serializes and transmits a control envelope. Concurrent Send calls
// are safe; the write lock prevents frame interleaving on the shared
// connection.
func (s *Session) Send(env *frame.ControlEnvelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rpctransport: session not connected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return frame.EncodeControl(conn, env)
}

// Poll reads at most one envelope, blocking up to timeout. A zero timeout
// blocks forever.
func (s *Session) Poll(timeout time.Duration) (*frame.ControlEnvelope, error) {
	var after <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		after = t.C
	}
	select {
	case env := <-s.inbox:
		return env, nil
	case err := <-s.errc:
		return nil, err
	case <-after:
		return nil, ErrPollTimeout{}
	}
}

// ErrPollTimeout is returned by Poll when no envelope arrives in time.
type ErrPollTimeout struct{}

func (ErrPollTimeout) Error() string { return "rpctransport: poll timeout" }

func (s *Session) recvLoop(conn net.Conn) {
	for {
		env, err := frame.DecodeControl(conn)
		if err != nil {
			select {
			case s.errc <- err:
			default:
			}
			return
		}
		select {
		case s.inbox <- env:
		case <-s.closed:
			return
		}
	}
}

// Reconnect closes the current connection and opens a fresh one, emitting
// a fresh identity. Required after a sign-in failure or a forced namespace
// change per §4.5.
func (s *Session) Reconnect() error {
	s.Close()
	return s.connect()
}

// Close releases the underlying connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
