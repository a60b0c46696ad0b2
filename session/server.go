package session

import (
	"osrf/codec"
	"osrf/logging"
	"osrf/message"
	"osrf/transport"
)

// ServerSession is the worker-side peer of one client session thread. The
// dispatcher creates it from the first inbound envelope of a thread; the
// client's sender address is pinned as the reply target, and the client's
// XID is adopted for log correlation.
type ServerSession struct {
	tr     transport.Transport
	thread string
	remote transport.Address
	locale string
	xid    string
	log    *logging.Logger

	// Stateful reports whether the client sent CONNECT on this thread.
	Stateful bool
}

// NewServerSession pins a server session to the client at remote.
func NewServerSession(tr transport.Transport, thread string, remote transport.Address, xid string) *ServerSession {
	return &ServerSession{
		tr:     tr,
		thread: thread,
		remote: remote,
		locale: message.DefaultLocale,
		xid:    xid,
		log:    logging.Default().WithXID(xid),
	}
}

// Thread returns the session thread string.
func (s *ServerSession) Thread() string { return s.thread }

// Remote returns the client's peer address.
func (s *ServerSession) Remote() transport.Address { return s.remote }

// XID returns the adopted transaction id.
func (s *ServerSession) XID() string { return s.xid }

// Locale returns the locale echoed on outbound messages.
func (s *ServerSession) Locale() string { return s.locale }

// SetLocale records the locale of the inbound REQUEST so responses echo it.
func (s *ServerSession) SetLocale(locale string) {
	if locale != "" {
		s.locale = locale
	}
}

// Respond streams one RESULT value for the request identified by trace.
func (s *ServerSession) Respond(trace uint32, content *codec.Value) error {
	res := message.NewResult(content)
	return s.sendBatch([]*message.Message{s.newMessage(trace, message.Result, res.ToValue())})
}

// RespondComplete emits an optional final RESULT followed by the terminal
// STATUS 205 in one transmission unit.
func (s *ServerSession) RespondComplete(trace uint32, content *codec.Value) error {
	var msgs []*message.Message
	if content != nil {
		msgs = append(msgs, s.newMessage(trace, message.Result, message.NewResult(content).ToValue()))
	}
	st := message.NewStatus(message.StatusComplete)
	msgs = append(msgs, s.newMessage(trace, message.Status, st.ToValue()))
	return s.sendBatch(msgs)
}

// Status emits a lifecycle STATUS for trace.
func (s *ServerSession) Status(trace uint32, code int, detail string) error {
	st := message.NewStatus(code, detail)
	return s.sendBatch([]*message.Message{s.newMessage(trace, message.Status, st.ToValue())})
}

func (s *ServerSession) newMessage(trace uint32, typ message.Type, payload *codec.Value) *message.Message {
	return &message.Message{
		ThreadTrace: trace,
		Type:        typ,
		Payload:     payload,
		Locale:      s.locale,
	}
}

func (s *ServerSession) sendBatch(msgs []*message.Message) error {
	err := s.tr.Send(&transport.Envelope{
		To:     s.remote,
		Thread: s.thread,
		XID:    s.xid,
		Body:   message.EncodeBatch(msgs),
	})
	if err != nil {
		s.log.Errorf("send to %s failed: %v", s.remote, err)
	}
	return err
}
