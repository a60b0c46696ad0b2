// Package middleware implements the onion-model interceptor chain wrapped
// around method dispatch on the server.
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
// Each middleware can pre-process, call next, post-process, or short-circuit
// by returning an error without calling next; the dispatcher translates the
// error into a STATUS for the client.
package middleware

import (
	"context"
	"errors"

	"osrf/codec"
)

// Call is the dispatcher's view of one inbound method invocation.
type Call struct {
	Service string
	Method  string
	Params  []*codec.Value
	XID     string
}

// HandlerFunc runs one method invocation.
type HandlerFunc func(ctx context.Context, call *Call) error

// Middleware wraps a handler with added behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Short-circuit errors recognized by the dispatcher.
var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrTimedOut    = errors.New("handler timed out")
)

// Chain composes middlewares right to left so the first listed is the
// outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
