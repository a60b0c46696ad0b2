package server

import (
	"osrf/codec"
	"osrf/message"
	"osrf/session"
)

// Context is the per-call state handed to a MethodHandler. Respond streams
// values back to the caller; RespondComplete is terminal, and anything
// responded after it is discarded.
type Context struct {
	sess   *session.ServerSession
	trace  uint32
	def    *MethodDef
	params []*codec.Value

	completed bool
	atomicBuf []*codec.Value
}

// Params returns the call's positional parameters.
func (c *Context) Params() []*codec.Value { return c.params }

// Param returns the i-th parameter, nil when absent.
func (c *Context) Param(i int) *codec.Value {
	if i < 0 || i >= len(c.params) {
		return nil
	}
	return c.params[i]
}

// Method returns the invoked method's definition.
func (c *Context) Method() *MethodDef { return c.def }

// Session returns the server session this call arrived on.
func (c *Context) Session() *session.ServerSession { return c.sess }

// Locale returns the locale of the inbound request.
func (c *Context) Locale() string { return c.sess.Locale() }

// XID returns the transaction id adopted from the caller.
func (c *Context) XID() string { return c.sess.XID() }

// RequestID returns the thread trace of this call.
func (c *Context) RequestID() uint32 { return c.trace }

// Respond emits one RESULT value. Atomic methods buffer it instead; the
// buffered values ship as a single array on completion.
func (c *Context) Respond(v *codec.Value) error {
	if c.completed {
		return nil
	}
	if c.def.Options.Atomic {
		c.atomicBuf = append(c.atomicBuf, v)
		return nil
	}
	return c.sess.Respond(c.trace, v)
}

// RespondComplete emits an optional final value and the terminal STATUS.
// Only the first call has any effect.
func (c *Context) RespondComplete(v *codec.Value) error {
	if c.completed {
		return nil
	}
	c.completed = true
	if c.def.Options.Atomic {
		if v != nil {
			c.atomicBuf = append(c.atomicBuf, v)
		}
		return c.sess.RespondComplete(c.trace, codec.NewArray(c.atomicBuf...))
	}
	return c.sess.RespondComplete(c.trace, v)
}

// Progress emits STATUS 100 so the caller extends its deadline.
func (c *Context) Progress() error {
	if c.completed {
		return nil
	}
	return c.sess.Status(c.trace, message.StatusContinue, "")
}

// Completed reports whether the terminal STATUS has been sent.
func (c *Context) Completed() bool { return c.completed }
