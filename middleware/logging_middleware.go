package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"h2rpc/message"
	"h2rpc/metadata"
	"h2rpc/request"
)

// LoggingMiddleware logs every call with its duration, peer and request id.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
			start := time.Now()
			call := callOf(req)
			requestID := req.Header().Get(metadata.RequestIDKey)

			reply := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", call.ServiceMethod),
				zap.String("peer", call.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			}
			if requestID != "" {
				fields = append(fields, zap.String("request_id", requestID))
			}
			if reply.Error != "" {
				logger.Warn("rpc failed", append(fields, zap.String("error", reply.Error))...)
			} else {
				logger.Info("rpc", fields...)
			}
			return reply
		}
	}
}
