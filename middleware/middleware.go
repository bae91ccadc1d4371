// Package middleware wraps server handlers. A handler receives the envelope
// with its payload still serialized; middlewares see the caller's header and
// extensions without knowing the argument type.
package middleware

import (
	"context"

	"h2rpc/extensions"
	"h2rpc/message"
	"h2rpc/request"
)

type HandlerFunc func(ctx context.Context, req *request.Request[[]byte]) *message.Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// callOf reads the call description the server attached. It must be read
// before next runs, since next consumes the envelope.
func callOf(req *request.Request[[]byte]) message.Call {
	call, _ := extensions.Get[message.Call](req.Extensions())
	return call
}

func serviceMethod(req *request.Request[[]byte]) string {
	return callOf(req).ServiceMethod
}
