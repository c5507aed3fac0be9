package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wirerpc/message"
)

// Logging logs one line per dispatched call: target, duration and status.
func Logging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			log.Info("dispatched call",
				zap.String("service", req.Service),
				zap.String("method", req.Method),
				zap.Uint64("call_id", req.CallID),
				zap.String("status", resp.Status.String()),
				zap.Duration("duration", time.Since(start)),
			)
			return resp
		}
	}
}
