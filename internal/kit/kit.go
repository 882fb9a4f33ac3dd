// Package kit is the transport-neutral endpoint layer: a service
// operation is an Endpoint, and the HTTP and MCP surfaces only decode
// requests into it and encode its responses.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one service operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named op with its duration,
// transport and trace ID.
func Logging(logger *slog.Logger, op string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", op,
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := GetTraceID(ctx); id != "" {
				attrs = append(attrs, "trace_id", id)
			}
			if err != nil {
				logger.ErrorContext(ctx, "kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: call ok", attrs...)
			}
			return resp, err
		}
	}
}

// Call describes one finished endpoint invocation.
type Call struct {
	Op        string
	Transport string
	TraceID   string
	Request   any
	Err       error
	Duration  time.Duration
}

// Audit hands every call of the endpoint named op to record once it
// returns.
func Audit(op string, record func(context.Context, Call)) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			record(ctx, Call{
				Op:        op,
				Transport: GetTransport(ctx),
				TraceID:   GetTraceID(ctx),
				Request:   req,
				Err:       err,
				Duration:  time.Since(start),
			})
			return resp, err
		}
	}
}
