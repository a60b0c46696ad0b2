package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"osrf/loadbalance"
	"osrf/logging"
	"osrf/registry"
)

const memQueueDepth = 256

// MemBus is an in-process broker hub. Every Open creates a connection with
// its own transient peer address; service-addressed envelopes are spread
// over subscribed connections by a Balancer.
type MemBus struct {
	mu       sync.Mutex
	peers    map[Address]*MemTransport
	services map[string][]*MemTransport
	balancer loadbalance.Balancer
	auth     func(Credentials) bool
}

// NewMemBus creates a hub with round-robin service dispatch.
func NewMemBus() *MemBus {
	return &MemBus{
		peers:    make(map[Address]*MemTransport),
		services: make(map[string][]*MemTransport),
		balancer: &loadbalance.RoundRobin{},
	}
}

// SetBalancer replaces the service-dispatch strategy.
func (b *MemBus) SetBalancer(bal loadbalance.Balancer) {
	b.mu.Lock()
	b.balancer = bal
	b.mu.Unlock()
}

// SetAuth installs a credential check applied on Connect. Without one, any
// credentials are accepted.
func (b *MemBus) SetAuth(check func(Credentials) bool) {
	b.mu.Lock()
	b.auth = check
	b.mu.Unlock()
}

// Open creates a new connection on the hub. The clientID only labels the
// peer address for logs.
func (b *MemBus) Open(clientID string) *MemTransport {
	t := &MemTransport{
		bus:   b,
		addr:  PeerAddress(clientID + "-" + uuid.NewString()),
		queue: make(chan *Envelope, memQueueDepth),
	}
	b.mu.Lock()
	b.peers[t.addr] = t
	b.mu.Unlock()
	return t
}

// route delivers an envelope to its destination queue.
func (b *MemBus) route(env *Envelope) error {
	b.mu.Lock()
	var target *MemTransport
	if env.To.IsPeer() {
		target = b.peers[env.To]
	} else if env.To.IsService() {
		subs := b.services[env.To.Service()]
		if len(subs) > 0 {
			instances := make([]registry.Instance, len(subs))
			for i, s := range subs {
				instances[i] = registry.Instance{Address: s.addr.String()}
			}
			if inst, err := b.balancer.Pick(instances); err == nil {
				target = b.peers[Address(inst.Address)]
			}
		}
	}
	b.mu.Unlock()

	if target == nil {
		return ErrNoRoute
	}
	target.deliver(env)
	return nil
}

func (b *MemBus) subscribe(t *MemTransport, service string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.services[service] {
		if s == t {
			return
		}
	}
	b.services[service] = append(b.services[service], t)
}

func (b *MemBus) drop(t *MemTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, t.addr)
	for svc, subs := range b.services {
		for i, s := range subs {
			if s == t {
				b.services[svc] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (b *MemBus) checkAuth(cred Credentials) bool {
	b.mu.Lock()
	check := b.auth
	b.mu.Unlock()
	return check == nil || check(cred)
}

// MemTransport is one connection on a MemBus.
type MemTransport struct {
	bus    *MemBus
	addr   Address
	queue  chan *Envelope
	serial uint64

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *MemTransport) Connect(cred Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return nil
	}
	if !t.bus.checkAuth(cred) {
		return ErrAuth
	}
	t.connected = true
	return nil
}

func (t *MemTransport) Address() Address { return t.addr }

func (t *MemTransport) Subscribe(service string) error {
	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()
	t.bus.subscribe(t, service)
	return nil
}

func (t *MemTransport) Send(env *Envelope) error {
	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	out := &Envelope{
		From:   t.addr,
		To:     env.To,
		Thread: env.Thread,
		XID:    env.XID,
		Serial: atomic.AddUint64(&t.serial, 1),
		Body:   copyBytes(env.Body),
	}
	return t.bus.route(out)
}

func (t *MemTransport) Recv(timeout time.Duration) (*Envelope, error) {
	if timeout < 0 {
		env, ok := <-t.queue
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	}
	if timeout == 0 {
		select {
		case env, ok := <-t.queue:
			if !ok {
				return nil, ErrClosed
			}
			return env, nil
		default:
			return nil, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env, ok := <-t.queue:
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	case <-timer.C:
		return nil, nil
	}
}

func (t *MemTransport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	t.bus.drop(t)
	close(t.queue)
}

func (t *MemTransport) deliver(env *Envelope) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	defer func() {
		// A racing Disconnect can close the queue under us; the envelope
		// is dropped, which at-least-once delivery permits.
		_ = recover()
	}()
	select {
	case t.queue <- env:
	default:
		logging.Default().Warnf("mem bus queue full, dropping envelope for %s", env.To)
	}
}
