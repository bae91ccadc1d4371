package middleware

import (
	"context"
	"time"

	"h2rpc/extensions"
	"h2rpc/message"
	"h2rpc/request"
)

// TimeOutMiddleware bounds the handler by timeout, or by the caller's deadline
// extension when that is sooner.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
			deadline := time.Now().Add(timeout)
			if d, ok := extensions.Get[message.Deadline](req.Extensions()); ok && d.At.Before(deadline) {
				deadline = d.At
			}
			ctx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()

			method := serviceMethod(req)
			done := make(chan *message.Reply, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return message.Fail(method, "request timed out")
			}
		}
	}
}
