// Package broker implements the standalone TCP message broker.
//
// The broker accepts framed connections (see osrf/transport), assigns each a
// transient peer address during the hello exchange, and routes Data frames:
// peer-addressed frames go to the named connection, service-addressed frames
// to one subscribed worker picked by a Balancer.
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  Hello     → authenticate, assign peer address, reply
//	  Subscribe → add conn to the service's worker list
//	  Data      → resolve destination, forward frame
package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"osrf/loadbalance"
	"osrf/logging"
	"osrf/registry"
	"osrf/transport"
)

// AuthFunc validates login credentials from a hello frame.
type AuthFunc func(username, password string) bool

// Broker is the hub process state.
type Broker struct {
	listener net.Listener
	balancer loadbalance.Balancer
	auth     AuthFunc
	log      *logging.Logger
	wg       sync.WaitGroup
	shutdown atomic.Bool

	mu       sync.Mutex
	peers    map[transport.Address]*peerConn
	services map[string][]transport.Address
}

// peerConn is one registered connection. writeMu serializes frame writes so
// forwards from different source connections do not interleave.
type peerConn struct {
	addr    transport.Address
	conn    net.Conn
	writeMu sync.Mutex
}

// New creates a broker with round-robin service dispatch and open auth.
func New() *Broker {
	return &Broker{
		balancer: &loadbalance.RoundRobin{},
		log:      logging.Default(),
		peers:    make(map[transport.Address]*peerConn),
		services: make(map[string][]transport.Address),
	}
}

// SetAuth installs a credential check applied during hello.
func (b *Broker) SetAuth(auth AuthFunc) { b.auth = auth }

// SetBalancer replaces the service-dispatch strategy.
func (b *Broker) SetBalancer(bal loadbalance.Balancer) { b.balancer = bal }

// Serve listens on address and runs the accept loop until Shutdown.
func (b *Broker) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	b.listener = listener
	b.log.Infof("broker listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if b.shutdown.Load() {
				return nil
			}
			return err
		}
		go b.handleConn(conn)
	}
}

// Addr returns the bound listener address, valid once Serve has started.
func (b *Broker) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Shutdown stops accepting, closes every connection, and waits for the
// per-connection readers to drain, up to timeout.
func (b *Broker) Shutdown(timeout time.Duration) error {
	b.shutdown.Store(true)
	if b.listener != nil {
		b.listener.Close()
	}

	b.mu.Lock()
	for _, p := range b.peers {
		p.conn.Close()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return nil
	}
}

// handleConn runs the per-connection read loop. The first frame must be a
// hello; everything after routes through the hub.
func (b *Broker) handleConn(conn net.Conn) {
	b.wg.Add(1)
	defer b.wg.Done()
	defer conn.Close()

	hello, err := transport.DecodeFrame(conn)
	if err != nil || hello.Type != transport.FrameHello {
		b.log.Warnf("broker: rejecting connection from %s: bad hello", conn.RemoteAddr())
		return
	}
	if b.auth != nil && !b.auth(hello.To, string(hello.Body)) {
		b.log.Warnf("broker: login failed for %q from %s", hello.To, conn.RemoteAddr())
		// An empty To in the reply signals auth failure.
		_ = transport.EncodeFrame(conn, &transport.Frame{Type: transport.FrameHello})
		return
	}

	peer := &peerConn{
		addr: transport.PeerAddress(uuid.NewString()),
		conn: conn,
	}
	b.mu.Lock()
	b.peers[peer.addr] = peer
	b.mu.Unlock()
	defer b.drop(peer)

	peer.writeMu.Lock()
	err = transport.EncodeFrame(conn, &transport.Frame{Type: transport.FrameHello, To: peer.addr.String()})
	peer.writeMu.Unlock()
	if err != nil {
		return
	}
	b.log.Debugf("broker: %s connected as %s", conn.RemoteAddr(), peer.addr)

	for {
		f, err := transport.DecodeFrame(conn)
		if err != nil {
			return
		}
		switch f.Type {
		case transport.FrameHeartbeat:
			continue
		case transport.FrameSubscribe:
			b.subscribe(peer, f.To)
		case transport.FrameData:
			// Stamp the real sender; clients cannot spoof a From.
			f.From = peer.addr.String()
			b.route(f)
		}
	}
}

func (b *Broker) subscribe(peer *peerConn, service string) {
	if service == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, addr := range b.services[service] {
		if addr == peer.addr {
			return
		}
	}
	b.services[service] = append(b.services[service], peer.addr)
	b.log.Infof("broker: %s subscribed to %s", peer.addr, service)
}

// route resolves the destination of a Data frame and forwards it.
func (b *Broker) route(f *transport.Frame) {
	to := transport.Address(f.To)

	b.mu.Lock()
	var target *peerConn
	switch {
	case to.IsPeer():
		target = b.peers[to]
	case to.IsService():
		addrs := b.services[to.Service()]
		if len(addrs) > 0 {
			instances := make([]registry.Instance, len(addrs))
			for i, a := range addrs {
				instances[i] = registry.Instance{Address: a.String()}
			}
			if inst, err := b.balancer.Pick(instances); err == nil {
				target = b.peers[transport.Address(inst.Address)]
			}
		}
	}
	b.mu.Unlock()

	if target == nil {
		b.log.Infof("broker: dropping frame for unroutable address %q", f.To)
		return
	}

	target.writeMu.Lock()
	err := transport.EncodeFrame(target.conn, f)
	target.writeMu.Unlock()
	if err != nil {
		b.log.Warnf("broker: forward to %s failed: %v", target.addr, err)
	}
}

// drop unregisters a connection and its subscriptions.
func (b *Broker) drop(peer *peerConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peer.addr)
	for svc, addrs := range b.services {
		for i, a := range addrs {
			if a == peer.addr {
				b.services[svc] = append(addrs[:i], addrs[i+1:]...)
				break
			}
		}
	}
}
