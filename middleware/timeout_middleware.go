package middleware

import (
	"context"
	"time"
)

// Timeout bounds how long the dispatcher waits for a handler. The handler
// goroutine is not killed when the deadline fires; it only stops being
// waited for, and should watch ctx.Done() if it wants true cancellation.
func Timeout(limit time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ErrTimedOut
			}
		}
	}
}
