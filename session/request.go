package session

import (
	"time"

	"osrf/codec"
	"osrf/transport"
)

// Request is one pending call within a session. It is created by the
// session, mutated only by the session's receive path, and dropped from the
// request table once both drained and complete.
type Request struct {
	sess   *ClientSession
	id     uint32
	method string
	params []*codec.Value

	queue    []*codec.Value
	complete bool
	err      error
	from     transport.Address // first worker to answer; others are discarded
	extend   bool              // set by STATUS 100, consumed by Recv
}

// ID returns the request's thread trace.
func (r *Request) ID() uint32 { return r.id }

// Method returns the invoked method name.
func (r *Request) Method() string { return r.method }

// Complete reports whether a terminal STATUS or failure has been seen.
func (r *Request) Complete() bool { return r.complete }

// Err returns the failure recorded for this request, nil while healthy.
func (r *Request) Err() error { return r.err }

// Recv returns the next streamed value. It drives the session's transport
// until a value is queued, the request completes, or timeout elapses:
//
//   - queued value       → (value, nil)
//   - deadline elapsed   → (nil, nil); the completion bit is untouched
//   - complete, drained  → (nil, nil) and the request leaves the table
//   - failure STATUS or transport loss → (nil, error)
//
// A STATUS 100 received while waiting pushes the deadline out by the
// original timeout.
func (r *Request) Recv(timeout time.Duration) (*codec.Value, error) {
	deadline := time.Now().Add(timeout)
	for {
		if len(r.queue) > 0 {
			v := r.queue[0]
			r.queue = r.queue[1:]
			return v, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.complete {
			r.sess.finish(r)
			return nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if err := r.sess.pump(remaining); err != nil {
			return nil, err
		}
		if r.extend {
			r.extend = false
			deadline = time.Now().Add(timeout)
		}
	}
}

// Drain collects every remaining value until the request completes or
// fails, waiting up to timeout per value.
func (r *Request) Drain(timeout time.Duration) ([]*codec.Value, error) {
	var out []*codec.Value
	for {
		v, err := r.Recv(timeout)
		if err != nil {
			return out, err
		}
		if v == nil {
			if r.complete || r.err != nil {
				return out, r.err
			}
			return out, nil // per-value timeout
		}
		out = append(out, v)
	}
}

// accepts records the first answering worker and reports whether env sender
// may touch this request. Racing answers from a second worker lose.
func (r *Request) accepts(from transport.Address) bool {
	if r.from == "" {
		r.from = from
		return true
	}
	return r.from == from
}

// push appends a streamed value. Completed requests refuse appends.
func (r *Request) push(v *codec.Value) {
	if r.complete {
		return
	}
	r.queue = append(r.queue, v)
}

// fail records err and completes the request.
func (r *Request) fail(err error) {
	if r.complete {
		return
	}
	r.err = err
	r.complete = true
}
