// Package proxy implements the data-plane fan-out relay (§4.7): an ingress
// listener accepts publisher connections, an egress listener accepts
// subscriber connections, and every frame sequence received on ingress is
// rebroadcast verbatim to every connected subscriber. The proxy never
// decodes a frame's topic or payload — per §4.7 it "MUST be a pure
// pass-through" — so subscriber-side topic filtering happens entirely in
// the caller, typically via frame.DecodeData on the subscriber's own
// connection.
package proxy

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"leco/frame"

	"golang.org/x/sync/errgroup"
)

// Proxy bridges publishers (ingress) and subscribers (egress).
type Proxy struct {
	IngressAddr string
	EgressAddr  string

	mu        sync.RWMutex
	ingressLn net.Listener
	egressLn  net.Listener
	subs      map[net.Conn]*sync.Mutex

	shutdown atomic.Bool
}

// New creates a Proxy that will listen on the given ingress and egress
// addresses once Run is called.
func New(ingressAddr, egressAddr string) *Proxy {
	return &Proxy{
		IngressAddr: ingressAddr,
		EgressAddr:  egressAddr,
		subs:        make(map[net.Conn]*sync.Mutex),
	}
}

// Run binds both sockets and runs their accept loops until Shutdown is
// called or either loop hits a fatal error. Binding both sockets up front
// and running their loops under one errgroup gives §4.7's "Startup MUST
// fail fast if either socket cannot bind": a bind failure on either
// address unwinds the other before Run returns.
func (p *Proxy) Run() error {
	ingressLn, err := net.Listen("tcp", p.IngressAddr)
	if err != nil {
		return fmt.Errorf("proxy: ingress bind: %w", err)
	}
	egressLn, err := net.Listen("tcp", p.EgressAddr)
	if err != nil {
		ingressLn.Close()
		return fmt.Errorf("proxy: egress bind: %w", err)
	}

	p.mu.Lock()
	p.ingressLn = ingressLn
	p.egressLn = egressLn
	p.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return p.acceptLoop(ingressLn, p.handleIngress) })
	g.Go(func() error { return p.acceptLoop(egressLn, p.handleEgress) })

	err = g.Wait()
	if p.shutdown.Load() {
		return nil
	}
	return err
}

// acceptLoop runs a plain accept loop, dispatching each connection to
// handle in its own goroutine, and triggers a full Shutdown the moment one
// listener errors so the sibling loop fails fast too.
func (p *Proxy) acceptLoop(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if p.shutdown.Load() {
				return nil
			}
			p.Shutdown()
			return err
		}
		go handle(conn)
	}
}

// Shutdown closes both listeners and every subscriber connection. Safe to
// call more than once.
func (p *Proxy) Shutdown() {
	if p.shutdown.Swap(true) {
		return
	}
	p.mu.RLock()
	ingressLn, egressLn := p.ingressLn, p.egressLn
	p.mu.RUnlock()
	if ingressLn != nil {
		ingressLn.Close()
	}
	if egressLn != nil {
		egressLn.Close()
	}
	p.mu.Lock()
	for conn := range p.subs {
		conn.Close()
	}
	p.mu.Unlock()
}

// handleIngress reads raw frame sequences off a publisher connection and
// rebroadcasts each one verbatim.
func (p *Proxy) handleIngress(conn net.Conn) {
	defer conn.Close()
	for {
		frames, err := frame.ReadFrames(conn)
		if err != nil {
			if err != frame.ErrNoFrames {
				log.Printf("proxy: ingress read from %s failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		p.broadcast(frames)
	}
}

// handleEgress registers conn as a subscriber and blocks reading from it
// (subscribers send nothing) purely to detect disconnection.
func (p *Proxy) handleEgress(conn net.Conn) {
	var writeMu sync.Mutex
	p.mu.Lock()
	p.subs[conn] = &writeMu
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.subs, conn)
		p.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// broadcast writes frames to every currently connected subscriber,
// guarding each subscriber's own write mutex so a slow or dead subscriber
// can never interleave a partial frame sequence into another's stream.
func (p *Proxy) broadcast(frames [][]byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for conn, writeMu := range p.subs {
		writeMu.Lock()
		if err := frame.WriteFrames(conn, frames); err != nil {
			log.Printf("proxy: egress write to %s failed: %v", conn.RemoteAddr(), err)
		}
		writeMu.Unlock()
	}
}
