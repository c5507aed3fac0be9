// Package middleware provides an opt-in handler chain for the wirerpc
// dispatcher. Middlewares wrap the dispatch handler onion-style:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// so A sees the request first and the response last.
//
// There is no retry middleware: the core cannot know whether a call is safe
// to repeat, so retry policy belongs to the caller.
package middleware

import (
	"context"
	"encoding/json"

	"wirerpc/codec"
	"wirerpc/message"
)

// HandlerFunc processes one request envelope into exactly one response
// envelope.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. They apply in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// errorResponse builds a middleware-originated error response. The failure
// payload is JSON regardless of the request codec; the envelope's codec name
// says so, which is what lets mixed-codec callers still decode it.
func errorResponse(req *message.Request, status message.Status, kind, msg string) *message.Response {
	payload, _ := json.Marshal(message.Failure{Kind: kind, Message: msg})
	return message.NewErrorResponse(req.CallID, req.Service, status, codec.NameJSON, payload)
}
