package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrf/codec"
	"osrf/message"
	"osrf/middleware"
	"osrf/session"
	"osrf/transport"
)

func mathRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "add",
		MinArgc: 2,
		Options: MethodOptions{Streaming: true},
		Handler: func(ctx *Context) error {
			sum := ctx.Param(0).Int() + ctx.Param(1).Int()
			return ctx.RespondComplete(codec.NewInt(sum))
		},
	}))
	return reg
}

func startServer(t *testing.T, bus *transport.MemBus, reg *Registry, mws ...middleware.Middleware) *Server {
	t.Helper()
	tr := bus.Open("worker")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	srv := NewServer("opensrf.math", tr, reg)
	for _, mw := range mws {
		srv.Use(mw)
	}
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	time.Sleep(20 * time.Millisecond) // let the subscription land
	return srv
}

func client(t *testing.T, bus *transport.MemBus) *session.ClientSession {
	t.Helper()
	tr := bus.Open("client")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	t.Cleanup(tr.Disconnect)
	return session.NewClientSession(tr, "opensrf.math")
}

func TestMathAdd(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t))
	s := client(t, bus)

	req, err := s.Request("add", codec.NewInt(2), codec.NewInt(2))
	require.NoError(t, err)

	v, err := req.Recv(time.Second)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(4), v.Int())

	v, err = req.Recv(time.Second)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, req.Complete())
}

func TestUnknownMethodLeavesSessionUsable(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t))
	s := client(t, bus)

	req, err := s.Request("nope")
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusNotFound, reqErr.StatusCode)

	// The session survives for the next valid call.
	req2, err := s.Request("add", codec.NewInt(1), codec.NewInt(2))
	require.NoError(t, err)
	v, err := req2.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())
}

func TestArgcValidation(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t))
	s := client(t, bus)

	req, err := s.Request("add", codec.NewInt(1))
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusBadRequest, reqErr.StatusCode)
}

func TestRespondAfterCompleteDiscarded(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "chatty",
		Options: MethodOptions{Streaming: true},
		Handler: func(ctx *Context) error {
			_ = ctx.Respond(codec.NewString("a"))
			_ = ctx.Respond(codec.NewString("b"))
			_ = ctx.RespondComplete(nil)
			_ = ctx.Respond(codec.NewString("c"))
			return nil
		},
	}))
	bus := transport.NewMemBus()
	startServer(t, bus, reg)
	s := client(t, bus)

	req, err := s.Request("chatty")
	require.NoError(t, err)
	values, err := req.Drain(time.Second)
	require.NoError(t, err)

	var got []string
	for _, v := range values {
		got = append(got, v.Str())
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.True(t, req.Complete())
}

func TestHandlerPanicBecomes500(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "crash",
		Handler: func(ctx *Context) error {
			panic("kaboom")
		},
	}))
	bus := transport.NewMemBus()
	startServer(t, bus, reg)
	s := client(t, bus)

	req, err := s.Request("crash")
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusInternalErr, reqErr.StatusCode)

	// The worker survives the panic.
	req2, err := s.Request("opensrf.system.method")
	require.NoError(t, err)
	values, err := req2.Drain(time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, values)
}

func TestStatusErrorMapped(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "unsupported",
		Handler: func(ctx *Context) error {
			return &StatusError{Code: message.StatusNotImplemented, Detail: "not yet"}
		},
	}))
	bus := transport.NewMemBus()
	startServer(t, bus, reg)
	s := client(t, bus)

	req, err := s.Request("unsupported")
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusNotImplemented, reqErr.StatusCode)
}

func TestAtomicMethodCollectsResults(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "batch",
		Options: MethodOptions{Atomic: true},
		Handler: func(ctx *Context) error {
			_ = ctx.Respond(codec.NewInt(1))
			_ = ctx.Respond(codec.NewInt(2))
			return ctx.RespondComplete(codec.NewInt(3))
		},
	}))
	bus := transport.NewMemBus()
	startServer(t, bus, reg)
	s := client(t, bus)

	req, err := s.Request("batch")
	require.NoError(t, err)
	v, err := req.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, codec.Array, v.Kind())
	require.Equal(t, 3, v.Len())
	assert.Equal(t, int64(3), v.Index(2).Int())
}

func TestIncompleteHandlerClosed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&MethodDef{
		Service: "opensrf.math",
		Name:    "forgetful",
		Handler: func(ctx *Context) error {
			return ctx.Respond(codec.NewString("only"))
		},
	}))
	bus := transport.NewMemBus()
	startServer(t, bus, reg)
	s := client(t, bus)

	req, err := s.Request("forgetful")
	require.NoError(t, err)
	values, err := req.Drain(time.Second)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.True(t, req.Complete())
}

func TestIntrospection(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t))
	s := client(t, bus)

	req, err := s.Request("opensrf.system.method")
	require.NoError(t, err)
	values, err := req.Drain(time.Second)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, v := range values {
		names[v.Get("method").Str()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["opensrf.system.method"])
}

func TestRateLimitMiddleware(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t), middleware.RateLimit(1, 1))
	s := client(t, bus)

	req, err := s.Request("add", codec.NewInt(1), codec.NewInt(1))
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	require.NoError(t, err)

	req2, err := s.Request("add", codec.NewInt(1), codec.NewInt(1))
	require.NoError(t, err)
	_, err = req2.Recv(time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusInternalErr, reqErr.StatusCode)
}

func TestRegistryFrozenAfterInitialize(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize()
	err := reg.Register(&MethodDef{Service: "s", Name: "m", Handler: func(*Context) error { return nil }})
	assert.Error(t, err)
}

func TestLocaleEcho(t *testing.T) {
	bus := transport.NewMemBus()
	startServer(t, bus, mathRegistry(t))

	tr := bus.Open("raw-client")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	t.Cleanup(tr.Disconnect)

	call := &message.MethodCall{Method: "add", Params: []*codec.Value{codec.NewInt(2), codec.NewInt(3)}}
	m := &message.Message{ThreadTrace: 0, Type: message.Request, Payload: call.ToValue(), Locale: "fr-CA"}
	require.NoError(t, tr.Send(&transport.Envelope{
		To:     transport.ServiceAddress("opensrf.math"),
		Thread: "locale-thread",
		Body:   message.EncodeBatch([]*message.Message{m}),
	}))

	deadline := time.Now().Add(time.Second)
	seen := 0
	for time.Now().Before(deadline) && seen < 2 {
		env, err := tr.Recv(100 * time.Millisecond)
		require.NoError(t, err)
		if env == nil {
			continue
		}
		msgs, err := message.DecodeBatch(env.Body)
		require.NoError(t, err)
		for _, rm := range msgs {
			assert.Equal(t, "fr-CA", rm.Locale)
			seen++
		}
	}
	assert.GreaterOrEqual(t, seen, 2)
}
