package middleware

import (
	"context"
	"time"

	"osrf/logging"
)

// Logging records method, duration, and failure for every invocation, under
// the call's transaction id.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			start := time.Now()
			err := next(ctx, call)
			log := logging.Default().WithXID(call.XID)
			log.Activityf("%s %s [%d params] %s", call.Service, call.Method, len(call.Params), time.Since(start))
			if err != nil {
				log.Errorf("%s %s failed: %v", call.Service, call.Method, err)
			}
			return err
		}
	}
}
