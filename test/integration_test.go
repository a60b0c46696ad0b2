package test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrf/broker"
	"osrf/client"
	"osrf/codec"
	"osrf/message"
	"osrf/middleware"
	"osrf/server"
	"osrf/session"
	"osrf/transport"
)

// startStack brings up a TCP broker and a math worker connected to it.
func startStack(t *testing.T) *broker.Broker {
	t.Helper()

	b := broker.New()
	go b.Serve("tcp", "127.0.0.1:0")
	require.Eventually(t, func() bool { return b.Addr() != "" }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { b.Shutdown(time.Second) })

	reg := server.NewRegistry()
	require.NoError(t, reg.Register(&server.MethodDef{
		Service: "opensrf.math",
		Name:    "add",
		MinArgc: 2,
		Handler: func(ctx *server.Context) error {
			return ctx.RespondComplete(codec.NewInt(ctx.Param(0).Int() + ctx.Param(1).Int()))
		},
	}))
	require.NoError(t, reg.Register(&server.MethodDef{
		Service: "opensrf.math",
		Name:    "countdown",
		MinArgc: 1,
		Options: server.MethodOptions{Streaming: true},
		Handler: func(ctx *server.Context) error {
			for i := ctx.Param(0).Int(); i > 0; i-- {
				if err := ctx.Respond(codec.NewInt(i)); err != nil {
					return err
				}
			}
			return ctx.RespondComplete(codec.NewString("liftoff"))
		},
	}))

	wtr, err := transport.DialTCP(b.Addr())
	require.NoError(t, err)
	require.NoError(t, wtr.Connect(transport.Credentials{Username: "osrf", Password: "osrf"}))
	srv := server.NewServer("opensrf.math", wtr, reg)
	srv.Use(middleware.Logging())
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	time.Sleep(50 * time.Millisecond)

	return b
}

func dialClient(t *testing.T, b *broker.Broker) *transport.TCPTransport {
	t.Helper()
	tr, err := transport.DialTCP(b.Addr())
	require.NoError(t, err)
	require.NoError(t, tr.Connect(transport.Credentials{Username: "osrf", Password: "osrf"}))
	t.Cleanup(tr.Disconnect)
	return tr
}

func TestMathAddOverBroker(t *testing.T) {
	b := startStack(t)
	c := client.New(dialClient(t, b))

	v, err := c.Call("opensrf.math", "add", 2*time.Second, codec.NewInt(2), codec.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Int())
}

func TestStreamingOverBroker(t *testing.T) {
	b := startStack(t)
	c := client.New(dialClient(t, b))

	values, err := c.CallAtomic("opensrf.math", "countdown", 2*time.Second, codec.NewInt(3))
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, int64(3), values[0].Int())
	assert.Equal(t, int64(1), values[2].Int())
	assert.Equal(t, "liftoff", values[3].Str())
}

func TestStatefulSessionPinsWorker(t *testing.T) {
	b := startStack(t)
	tr := dialClient(t, b)

	s := session.NewClientSession(tr, "opensrf.math")
	require.NoError(t, s.Connect(2*time.Second))
	pinned := s.Remote()
	require.True(t, pinned.IsPeer())

	for i := 1; i <= 3; i++ {
		req, err := s.Request("add", codec.NewInt(int64(i)), codec.NewInt(10))
		require.NoError(t, err)
		v, err := req.Recv(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(i+10), v.Int())
		assert.Equal(t, pinned, s.Remote())
	}

	require.NoError(t, s.Disconnect())
	assert.Equal(t, session.Disconnected, s.State())
}

func TestUnknownMethodOverBroker(t *testing.T) {
	b := startStack(t)
	c := client.New(dialClient(t, b))

	_, err := c.Call("opensrf.math", "nope", 2*time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusNotFound, reqErr.StatusCode)

	// The same transport keeps working afterwards.
	v, err := c.Call("opensrf.math", "add", 2*time.Second, codec.NewInt(5), codec.NewInt(6))
	require.NoError(t, err)
	assert.Equal(t, int64(11), v.Int())
}

func TestTwoWorkersLoadBalanced(t *testing.T) {
	b := startStack(t)

	// A second worker for the same service.
	reg := server.NewRegistry()
	require.NoError(t, reg.Register(&server.MethodDef{
		Service: "opensrf.math",
		Name:    "add",
		MinArgc: 2,
		Handler: func(ctx *server.Context) error {
			return ctx.RespondComplete(codec.NewInt(ctx.Param(0).Int() + ctx.Param(1).Int()))
		},
	}))
	wtr, err := transport.DialTCP(b.Addr())
	require.NoError(t, err)
	require.NoError(t, wtr.Connect(transport.Credentials{Username: "osrf", Password: "osrf"}))
	srv := server.NewServer("opensrf.math", wtr, reg)
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	time.Sleep(50 * time.Millisecond)

	c := client.New(dialClient(t, b))
	for i := 0; i < 10; i++ {
		v, err := c.Call("opensrf.math", "add", 2*time.Second, codec.NewInt(int64(i)), codec.NewInt(int64(i)))
		require.NoError(t, err)
		assert.Equal(t, int64(2*i), v.Int())
	}
}
