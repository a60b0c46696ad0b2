// Package client provides the high-level call API over sessions.
//
// Call flow:
//
//	Call("opensrf.math", "add", ...)
//	  → resolve: directory Discover + Balancer pick (when configured),
//	    otherwise the broker balances the service address
//	  → session.Request → Recv → value
package client

import (
	"errors"
	"time"

	"osrf/codec"
	"osrf/loadbalance"
	"osrf/logging"
	"osrf/registry"
	"osrf/session"
	"osrf/transport"
)

// ErrNoResponse reports a single-shot call that completed with no RESULT.
var ErrNoResponse = errors.New("client: no response before completion")

// ErrTimeout reports a call whose deadline elapsed before the terminal
// status arrived.
var ErrTimeout = errors.New("client: request timed out")

// Client issues calls for one caller over a shared transport.
type Client struct {
	tr  transport.Transport
	dir registry.Directory
	bal loadbalance.Balancer
	log *logging.Logger
}

// New creates a client over an already connected transport.
func New(tr transport.Transport) *Client {
	return &Client{tr: tr, log: logging.Default()}
}

// WithDirectory makes the client resolve workers itself: sessions pin a
// directory-picked peer instead of relying on broker balancing.
func (c *Client) WithDirectory(dir registry.Directory, bal loadbalance.Balancer) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobin{}
	}
	c.dir = dir
	c.bal = bal
	return c
}

// Session opens a session for a service, pinning a directory-resolved
// worker when a directory is configured and has live entries.
func (c *Client) Session(service string) *session.ClientSession {
	s := session.NewClientSession(c.tr, service)
	if c.dir != nil {
		instances, err := c.dir.Discover(service)
		if err == nil && len(instances) > 0 {
			if inst, err := c.bal.Pick(instances); err == nil {
				s.Pin(transport.Address(inst.Address))
			}
		}
	}
	return s
}

// Call issues a single-shot request and returns the first RESULT value,
// waiting until the request completes.
func (c *Client) Call(service, method string, timeout time.Duration, params ...*codec.Value) (*codec.Value, error) {
	values, err := c.CallAtomic(service, method, timeout, params...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoResponse
	}
	return values[0], nil
}

// CallAtomic issues a request and collects every streamed RESULT value
// until completion.
func (c *Client) CallAtomic(service, method string, timeout time.Duration, params ...*codec.Value) ([]*codec.Value, error) {
	s := c.Session(service)
	req, err := s.Request(method, params...)
	if err != nil {
		return nil, err
	}
	values, err := req.Drain(timeout)
	if err != nil {
		return nil, err
	}
	if !req.Complete() {
		return values, ErrTimeout
	}
	return values, nil
}

// CallRetry issues Call, resending after a transport failure with
// exponential backoff. Request-level failures (404, 400, 500…) are not
// retried.
func (c *Client) CallRetry(service, method string, timeout time.Duration, attempts int, baseDelay time.Duration, params ...*codec.Value) (*codec.Value, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := c.Call(service, method, timeout, params...)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		c.log.Warnf("retry %d for %s.%s: %v", i+1, service, method, err)
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return nil, lastErr
}

func retryable(err error) bool {
	return errors.Is(err, session.ErrTransportLost) ||
		errors.Is(err, transport.ErrNoRoute) ||
		errors.Is(err, transport.ErrClosed)
}
