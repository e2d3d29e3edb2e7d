// Package kit holds the transport-agnostic plumbing shared by the studio's
// HTTP and MCP surfaces: context keys, the Endpoint type and call logging.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one business operation, independent of transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Logging logs every endpoint call with its transport, session and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := append([]any{
				"endpoint", name,
				"duration_ms", time.Since(start).Milliseconds(),
			}, CallAttrs(ctx)...)
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("endpoint", attrs...)
			}
			return resp, err
		}
	}
}
