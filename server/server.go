// Package server implements the worker-side method dispatcher.
//
// A Server binds one service name to a transport, subscribes to the
// service's bus address, and runs a receive loop:
//
//	Recv envelope → decode batch → per-thread ServerSession
//	  CONNECT    → STATUS 200, mark the session stateful
//	  REQUEST    → registry lookup → middleware chain → handler
//	  DISCONNECT → drop the session
//
// Handlers stream values through Context.Respond and finish with
// RespondComplete; the dispatcher closes any request the handler leaves
// open and converts panics into STATUS 500.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"osrf/codec"
	"osrf/logging"
	"osrf/message"
	"osrf/middleware"
	"osrf/registry"
	"osrf/session"
	"osrf/transport"
)

// recvPoll bounds each blocking receive so Shutdown is noticed promptly.
const recvPoll = 250 * time.Millisecond

// StatusError lets a handler pick the STATUS sent for its failure, e.g.
// 501 for an unsupported variant or 417 for a validation failure.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("status %d %s", e.Code, message.StatusText(e.Code))
	}
	return fmt.Sprintf("status %d %s: %s", e.Code, message.StatusText(e.Code), e.Detail)
}

// Server is the dispatch loop for one service worker.
type Server struct {
	service     string
	tr          transport.Transport
	reg         *Registry
	middlewares []middleware.Middleware
	chain       middleware.Middleware
	sessions    map[string]*session.ServerSession
	log         *logging.Logger
	stopped     atomic.Bool

	dir       registry.Directory
	dirWeight int
	dirTTL    int64
}

// NewServer creates a dispatcher for service over an already connected
// transport. The registry may still be open; Serve freezes it.
func NewServer(service string, tr transport.Transport, reg *Registry) *Server {
	return &Server{
		service:  service,
		tr:       tr,
		reg:      reg,
		sessions: make(map[string]*session.ServerSession),
		log:      logging.Default(),
	}
}

// Use appends a middleware. Middlewares run in the order added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// WithDirectory announces this worker in a service directory while serving.
func (s *Server) WithDirectory(dir registry.Directory, weight int, ttl int64) {
	s.dir = dir
	s.dirWeight = weight
	s.dirTTL = ttl
}

// Serve subscribes to the service address and dispatches until Shutdown or
// transport loss.
func (s *Server) Serve() error {
	s.registerIntrospection()
	s.reg.Initialize()
	s.chain = middleware.Chain(s.middlewares...)

	if err := s.tr.Subscribe(s.service); err != nil {
		return fmt.Errorf("server: subscribe %s: %w", s.service, err)
	}
	if s.dir != nil {
		inst := registry.Instance{Address: s.tr.Address().String(), Weight: s.dirWeight}
		if err := s.dir.Register(s.service, inst, s.dirTTL); err != nil {
			return fmt.Errorf("server: directory register: %w", err)
		}
	}
	s.log.Infof("worker %s serving %s", s.tr.Address(), s.service)

	for {
		if s.stopped.Load() {
			return nil
		}
		env, err := s.tr.Recv(recvPoll)
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			return fmt.Errorf("server: transport lost: %w", err)
		}
		if env == nil {
			continue
		}
		s.handle(env)
	}
}

// Shutdown deregisters the worker and stops the dispatch loop.
func (s *Server) Shutdown() {
	if s.stopped.Swap(true) {
		return
	}
	if s.dir != nil {
		_ = s.dir.Deregister(s.service, s.tr.Address().String())
	}
	s.tr.Disconnect()
}

func (s *Server) handle(env *transport.Envelope) {
	msgs, err := message.DecodeBatch(env.Body)
	if err != nil {
		s.log.Warnf("dropping undecodable envelope from %s: %v", env.From, err)
		return
	}

	ss, ok := s.sessions[env.Thread]
	if !ok {
		ss = session.NewServerSession(s.tr, env.Thread, env.From, env.XID)
		s.sessions[env.Thread] = ss
	}

	for _, m := range msgs {
		switch m.Type {
		case message.Connect:
			ss.Stateful = true
			ss.SetLocale(m.Locale)
			_ = ss.Status(m.ThreadTrace, message.StatusOK, "")
		case message.Disconnect:
			delete(s.sessions, env.Thread)
		case message.Request:
			s.dispatch(ss, m)
		default:
			s.log.Warnf("unexpected %s message on server", m.Type)
		}
	}

	// Stateless conversations do not outlive the transmission unit.
	if !ss.Stateful {
		delete(s.sessions, env.Thread)
	}
}

func (s *Server) dispatch(ss *session.ServerSession, m *message.Message) {
	ss.SetLocale(m.Locale)

	call, err := message.MethodCallFromValue(m.Payload)
	if err != nil {
		_ = ss.Status(m.ThreadTrace, message.StatusBadRequest, "malformed request payload")
		return
	}

	log := s.log.WithXID(ss.XID())
	def, ok := s.reg.Lookup(s.service, call.Method)
	if !ok {
		log.Infof("method not found: %s.%s", s.service, call.Method)
		_ = ss.Status(m.ThreadTrace, message.StatusNotFound, call.Method)
		return
	}
	if len(call.Params) < def.MinArgc {
		_ = ss.Status(m.ThreadTrace, message.StatusBadRequest,
			fmt.Sprintf("%s requires at least %d arguments", call.Method, def.MinArgc))
		return
	}

	ctx := &Context{
		sess:   ss,
		trace:  m.ThreadTrace,
		def:    def,
		params: call.Params,
	}

	invoke := func(goCtx context.Context, mcall *middleware.Call) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return def.Handler(ctx)
	}

	mcall := &middleware.Call{
		Service: s.service,
		Method:  call.Method,
		Params:  call.Params,
		XID:     ss.XID(),
	}
	err = s.chain(invoke)(context.Background(), mcall)

	if err != nil {
		code, detail := statusFor(err)
		log.Errorf("%s.%s failed: %v", s.service, call.Method, err)
		if !ctx.completed {
			ctx.completed = true
			_ = ss.Status(m.ThreadTrace, code, detail)
			_ = ss.Status(m.ThreadTrace, message.StatusComplete, "")
		}
		return
	}
	// A handler that returns without completing still closes the request.
	if !ctx.completed {
		_ = ctx.RespondComplete(nil)
	}
}

// statusFor maps a handler or middleware error to a wire status.
func statusFor(err error) (int, string) {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Code, se.Detail
	case errors.Is(err, middleware.ErrTimedOut):
		return message.StatusTimeout, ""
	case errors.Is(err, middleware.ErrRateLimited):
		return message.StatusInternalErr, middleware.ErrRateLimited.Error()
	}
	return message.StatusInternalErr, err.Error()
}

// registerIntrospection exposes the registered method set through
// opensrf.system.method.
func (s *Server) registerIntrospection() {
	_ = s.reg.Register(&MethodDef{
		Service: s.service,
		Name:    "opensrf.system.method",
		MinArgc: 0,
		Options: MethodOptions{Streaming: true, NoContext: true},
		Handler: func(ctx *Context) error {
			for _, def := range s.reg.Methods(s.service) {
				meta := codec.NewObject()
				meta.Set("service", codec.NewString(def.Service))
				meta.Set("method", codec.NewString(def.Name))
				meta.Set("min_argc", codec.NewInt(int64(def.MinArgc)))
				meta.Set("atomic", codec.NewBool(def.Options.Atomic))
				meta.Set("streaming", codec.NewBool(def.Options.Streaming))
				if err := ctx.Respond(meta); err != nil {
					return err
				}
			}
			return ctx.RespondComplete(nil)
		},
	})
}
