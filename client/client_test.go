package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrf/codec"
	"osrf/loadbalance"
	"osrf/message"
	"osrf/registry"
	"osrf/server"
	"osrf/session"
	"osrf/transport"
)

func mathServer(t *testing.T, bus *transport.MemBus) *server.Server {
	t.Helper()
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
		Name:    "range",
		MinArgc: 1,
		Options: server.MethodOptions{Streaming: true},
		Handler: func(ctx *server.Context) error {
			n := ctx.Param(0).Int()
			for i := int64(0); i < n; i++ {
				if err := ctx.Respond(codec.NewInt(i)); err != nil {
					return err
				}
			}
			return ctx.RespondComplete(nil)
		},
	}))

	tr := bus.Open("worker")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	srv := server.NewServer("opensrf.math", tr, reg)
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	time.Sleep(20 * time.Millisecond)
	return srv
}

func newClient(t *testing.T, bus *transport.MemBus) *Client {
	t.Helper()
	tr := bus.Open("client")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	t.Cleanup(tr.Disconnect)
	return New(tr)
}

func TestCall(t *testing.T) {
	bus := transport.NewMemBus()
	mathServer(t, bus)
	c := newClient(t, bus)

	v, err := c.Call("opensrf.math", "add", time.Second, codec.NewInt(2), codec.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Int())
}

func TestCallAtomic(t *testing.T) {
	bus := transport.NewMemBus()
	mathServer(t, bus)
	c := newClient(t, bus)

	values, err := c.CallAtomic("opensrf.math", "range", time.Second, codec.NewInt(3))
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, int64(2), values[2].Int())
}

func TestCallRequestError(t *testing.T) {
	bus := transport.NewMemBus()
	mathServer(t, bus)
	c := newClient(t, bus)

	_, err := c.Call("opensrf.math", "missing", time.Second)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, message.StatusNotFound, reqErr.StatusCode)
}

func TestCallNoRouteFailsFast(t *testing.T) {
	bus := transport.NewMemBus()
	c := newClient(t, bus)

	_, err := c.Call("ghost.service", "m", time.Second)
	assert.ErrorIs(t, err, transport.ErrNoRoute)
}

func TestCallRetryGivesUpOnRequestError(t *testing.T) {
	bus := transport.NewMemBus()
	mathServer(t, bus)
	c := newClient(t, bus)

	start := time.Now()
	_, err := c.CallRetry("opensrf.math", "missing", time.Second, 3, 50*time.Millisecond)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	// No backoff sleeps for non-retryable failures.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCallRetryEventuallySucceeds(t *testing.T) {
	bus := transport.NewMemBus()
	c := newClient(t, bus)

	reg := server.NewRegistry()
	require.NoError(t, reg.Register(&server.MethodDef{
		Service: "opensrf.math",
		Name:    "add",
		MinArgc: 2,
		Handler: func(ctx *server.Context) error {
			return ctx.RespondComplete(codec.NewInt(ctx.Param(0).Int() + ctx.Param(1).Int()))
		},
	}))
	tr := bus.Open("worker")
	require.NoError(t, tr.Connect(transport.Credentials{}))
	srv := server.NewServer("opensrf.math", tr, reg)
	t.Cleanup(srv.Shutdown)

	// No worker yet: the first attempt has no route. The worker comes up
	// before the retry fires.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = srv.Serve()
	}()

	v, err := c.CallRetry("opensrf.math", "add", time.Second, 4, 40*time.Millisecond,
		codec.NewInt(1), codec.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())
}

func TestDirectoryPinnedSession(t *testing.T) {
	bus := transport.NewMemBus()
	mathServer(t, bus)

	dir := registry.NewMockDirectory()
	// The directory starts empty; the worker's real bus address is
	// registered below.
	workers, err := dir.Discover("opensrf.math")
	require.NoError(t, err)
	require.Empty(t, workers)

	// Resolve the worker address by a probe call first.
	c := newClient(t, bus)
	probe := c.Session("opensrf.math")
	req, err := probe.Request("add", codec.NewInt(0), codec.NewInt(0))
	require.NoError(t, err)
	_, err = req.Recv(time.Second)
	require.NoError(t, err)
	workerAddr := probe.Remote()
	require.True(t, workerAddr.IsPeer())

	require.NoError(t, dir.Register("opensrf.math", registry.Instance{Address: workerAddr.String()}, 10))

	pinned := c.WithDirectory(dir, &loadbalance.RoundRobin{}).Session("opensrf.math")
	assert.Equal(t, workerAddr, pinned.Remote())

	req2, err := pinned.Request("add", codec.NewInt(2), codec.NewInt(5))
	require.NoError(t, err)
	v, err := req2.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())
}
