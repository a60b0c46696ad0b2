package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"osrf/codec"
	"osrf/logging"
	"osrf/message"
	"osrf/transport"
)

// ClientSession is the caller's handle on one conversation with a service.
//
// Outbound REQUESTs go to the service address until the first inbound
// message pins the responding worker's peer address; from then on the
// conversation targets that worker until Disconnect.
type ClientSession struct {
	tr      transport.Transport
	service string
	thread  string
	locale  string
	xid     string
	log     *logging.Logger

	state     State
	remote    transport.Address
	nextTrace uint32
	requests  map[uint32]*Request
	seen      *seenSet
}

// NewClientSession creates a session for a named service over an already
// connected transport.
func NewClientSession(tr transport.Transport, service string) *ClientSession {
	xid := NewXID()
	return &ClientSession{
		tr:       tr,
		service:  service,
		thread:   uuid.NewString(),
		locale:   message.DefaultLocale,
		xid:      xid,
		log:      logging.Default().WithXID(xid),
		requests: make(map[uint32]*Request),
		seen:     newSeenSet(seenCap),
	}
}

// Thread returns the opaque session thread string.
func (s *ClientSession) Thread() string { return s.thread }

// Service returns the addressed service name.
func (s *ClientSession) Service() string { return s.service }

// State returns the current connection state.
func (s *ClientSession) State() State { return s.state }

// Remote returns the pinned worker address, "" before pinning.
func (s *ClientSession) Remote() transport.Address { return s.remote }

// XID returns the transaction id propagated with this session's messages.
func (s *ClientSession) XID() string { return s.xid }

// SetLocale overrides the locale stamped on outbound messages.
func (s *ClientSession) SetLocale(locale string) {
	if locale != "" {
		s.locale = locale
	}
}

// Pin targets all outbound traffic at a specific worker, as if it had
// already answered. Used with directory-resolved peer addresses.
func (s *ClientSession) Pin(addr transport.Address) {
	if addr != "" {
		s.remote = addr
	}
}

// Request sends a REQUEST for method with the given params and returns the
// pending request handle. Thread traces are allocated strictly increasing
// from 0. On a transport send error the request is returned already failed
// so the caller may inspect or retry it.
func (s *ClientSession) Request(method string, params ...*codec.Value) (*Request, error) {
	trace := s.nextTrace
	s.nextTrace++

	req := &Request{
		sess:   s,
		id:     trace,
		method: method,
		params: params,
	}
	s.requests[trace] = req

	if err := s.sendCall(req); err != nil {
		req.fail(fmt.Errorf("%w: %v", ErrTransportLost, err))
		return req, err
	}
	s.log.Debugf("sent request %d %s to %s", trace, method, s.target())
	return req, nil
}

func (s *ClientSession) sendCall(req *Request) error {
	call := &message.MethodCall{Method: req.method, Params: req.params}
	m := &message.Message{
		ThreadTrace: req.id,
		Type:        message.Request,
		Payload:     call.ToValue(),
		Locale:      s.locale,
	}
	return s.send(m)
}

// Connect establishes a stateful session: CONNECT goes to the service
// address and the session pins whichever worker answers STATUS 200.
func (s *ClientSession) Connect(timeout time.Duration) error {
	if s.state == Connected {
		return nil
	}
	s.state = Connecting

	trace := s.nextTrace
	s.nextTrace++
	m := &message.Message{ThreadTrace: trace, Type: message.Connect, Locale: s.locale}
	if err := s.send(m); err != nil {
		s.state = Disconnected
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	deadline := time.Now().Add(timeout)
	for s.state == Connecting {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.state = Disconnected
			return fmt.Errorf("%w: timeout", ErrConnectFailed)
		}
		if err := s.pump(remaining); err != nil {
			return err
		}
	}
	if s.state != Connected {
		return ErrConnectFailed
	}
	return nil
}

// Disconnect ends the conversation. Pending requests complete with
// ErrCancelled, the pin clears, and the worker is sent DISCONNECT when the
// session is connected.
func (s *ClientSession) Disconnect() error {
	var sendErr error
	if s.state == Connected && s.remote != "" {
		m := &message.Message{ThreadTrace: s.nextTrace, Type: message.Disconnect, Locale: s.locale}
		s.nextTrace++
		sendErr = s.send(m)
	}
	s.failPending(ErrCancelled)
	s.state = Disconnected
	s.remote = ""
	return sendErr
}

func (s *ClientSession) target() transport.Address {
	if s.remote != "" {
		return s.remote
	}
	return transport.ServiceAddress(s.service)
}

func (s *ClientSession) send(m *message.Message) error {
	return s.tr.Send(&transport.Envelope{
		To:     s.target(),
		Thread: s.thread,
		XID:    s.xid,
		Body:   message.EncodeBatch([]*message.Message{m}),
	})
}

// pump performs one transport receive and dispatches the result. A nil
// return with no envelope means the deadline elapsed. A transport error
// tears the session down and fails every pending request.
func (s *ClientSession) pump(timeout time.Duration) error {
	env, err := s.tr.Recv(timeout)
	if err != nil {
		s.log.Errorf("transport lost: %v", err)
		s.failPending(fmt.Errorf("%w: %v", ErrTransportLost, err))
		s.state = Disconnected
		s.remote = ""
		return ErrTransportLost
	}
	if env == nil {
		return nil
	}
	s.dispatch(env)
	return nil
}

func (s *ClientSession) dispatch(env *transport.Envelope) {
	if env.Thread != s.thread {
		s.log.Warnf("dropping envelope for unknown thread %q", env.Thread)
		return
	}
	msgs, err := message.DecodeBatch(env.Body)
	if err != nil {
		s.log.Warnf("dropping undecodable envelope from %s: %v", env.From, err)
		return
	}

	// First inbound pins the conversation to the answering worker.
	if s.remote == "" {
		s.remote = env.From
	}

	for i, m := range msgs {
		if s.seen.duplicate(seenKey{trace: m.ThreadTrace, serial: env.Serial, index: i}) {
			s.log.Infof("dropping duplicate message %d/%d", m.ThreadTrace, env.Serial)
			continue
		}
		switch m.Type {
		case message.Result:
			s.handleResult(m, env)
		case message.Status:
			s.handleStatus(m, env)
		default:
			s.log.Warnf("unexpected %s message on client session", m.Type)
		}
	}
}

func (s *ClientSession) handleResult(m *message.Message, env *transport.Envelope) {
	req, ok := s.requests[m.ThreadTrace]
	if !ok {
		s.log.Infof("dropping result for unknown request %d", m.ThreadTrace)
		return
	}
	if !req.accepts(env.From) {
		s.log.Infof("dropping result for request %d from losing worker %s", m.ThreadTrace, env.From)
		return
	}
	res, err := message.MethodResultFromValue(m.Payload)
	if err != nil {
		s.log.Warnf("dropping malformed result for request %d: %v", m.ThreadTrace, err)
		return
	}
	req.push(res.Content)
}

func (s *ClientSession) handleStatus(m *message.Message, env *transport.Envelope) {
	st, err := message.StatusFromValue(m.Payload)
	if err != nil {
		s.log.Warnf("dropping malformed status: %v", err)
		return
	}

	if s.state == Connecting {
		switch {
		case st.StatusCode == message.StatusOK:
			s.state = Connected
			s.remote = env.From
			s.log.Infof("connected to %s", s.remote)
			return
		case st.StatusCode >= message.StatusBadRequest:
			s.state = Disconnected
			s.failPending(fmt.Errorf("%w: %d %s", ErrConnectFailed, st.StatusCode, st.Status))
			return
		}
	}

	req, ok := s.requests[m.ThreadTrace]
	if !ok {
		s.log.Infof("dropping status %d for unknown request %d", st.StatusCode, m.ThreadTrace)
		return
	}
	if !req.accepts(env.From) {
		s.log.Infof("dropping status for request %d from losing worker %s", m.ThreadTrace, env.From)
		return
	}

	switch {
	case st.StatusCode == message.StatusContinue:
		req.extend = true
	case st.StatusCode == message.StatusAccepted:
		s.log.Debugf("request %d accepted", m.ThreadTrace)
	case st.StatusCode == message.StatusComplete:
		req.complete = true
	case st.StatusCode == message.StatusRedirect:
		// Retry against the pinned peer.
		if !req.complete {
			if err := s.sendCall(req); err != nil {
				req.fail(fmt.Errorf("%w: %v", ErrTransportLost, err))
			}
		}
	case st.StatusCode >= message.StatusBadRequest:
		req.fail(&RequestError{StatusCode: st.StatusCode, Status: st.Status})
	}
}

func (s *ClientSession) failPending(err error) {
	for _, req := range s.requests {
		if !req.complete {
			req.fail(err)
		}
	}
}

// finish removes a drained, completed request from the table.
func (s *ClientSession) finish(req *Request) {
	delete(s.requests, req.id)
}
