package middleware

import (
	"context"
	"time"

	"wirerpc/message"
)

// Timeout bounds handler execution time on the dispatcher side. When the
// budget is exhausted the caller gets an application error of kind
// "handler_timeout"; the handler goroutine itself is not interrupted beyond
// its context being canceled.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return errorResponse(req, message.StatusApplicationError, "handler_timeout", "handler exceeded time budget")
			}
		}
	}
}
