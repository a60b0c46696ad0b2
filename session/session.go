// Package session implements the application-session layer of the bus.
//
// A ClientSession addresses a named service, multiplexes requests over one
// transport by thread trace, and advances a small state machine driven by
// STATUS codes. A ServerSession is the worker-side counterpart used by the
// dispatcher to stream RESULTs back to a pinned client.
//
// Sessions follow a single-threaded cooperative model: one goroutine drives
// Connect / Request / Recv on a session, and the only blocking points are
// the transport receives underneath them. Cross-goroutine use requires one
// session per goroutine.
package session

import (
	"errors"
	"fmt"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session-layer errors.
var (
	// ErrTransportLost fails every pending request when the transport
	// errors out underneath the session.
	ErrTransportLost = errors.New("session: transport lost")

	// ErrConnectFailed reports a CONNECT that was refused or timed out.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrCancelled fails pending requests preempted by a disconnect.
	ErrCancelled = errors.New("session: request cancelled")
)

// RequestError carries a failure STATUS received for a request.
type RequestError struct {
	StatusCode int
	Status     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, e.Status)
}
