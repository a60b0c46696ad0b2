package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *Call) error {
				order = append(order, name+":before")
				err := next(ctx, call)
				order = append(order, name+":after")
				return err
			}
		}
	}
	handler := func(ctx context.Context, call *Call) error {
		order = append(order, "handler")
		return nil
	}

	chained := Chain(mk("A"), mk("B"))(handler)
	require.NoError(t, chained(context.Background(), &Call{}))
	assert.Equal(t, []string{"A:before", "B:before", "handler", "B:after", "A:after"}, order)
}

func TestChainShortCircuit(t *testing.T) {
	boom := errors.New("boom")
	block := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			return boom
		}
	}
	called := false
	handler := func(ctx context.Context, call *Call) error {
		called = true
		return nil
	}

	err := Chain(block)(handler)(context.Background(), &Call{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestRateLimit(t *testing.T) {
	handler := func(ctx context.Context, call *Call) error { return nil }
	limited := RateLimit(1, 2)(handler)

	assert.NoError(t, limited(context.Background(), &Call{}))
	assert.NoError(t, limited(context.Background(), &Call{}))
	assert.ErrorIs(t, limited(context.Background(), &Call{}), ErrRateLimited)
}

func TestTimeout(t *testing.T) {
	slow := func(ctx context.Context, call *Call) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := Timeout(20*time.Millisecond)(slow)(context.Background(), &Call{})
	assert.ErrorIs(t, err, ErrTimedOut)

	fast := func(ctx context.Context, call *Call) error { return nil }
	assert.NoError(t, Timeout(time.Second)(fast)(context.Background(), &Call{}))
}

func TestLoggingPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	handler := func(ctx context.Context, call *Call) error { return boom }
	err := Logging()(handler)(context.Background(), &Call{Service: "svc", Method: "m", XID: "x"})
	assert.ErrorIs(t, err, boom)
}
