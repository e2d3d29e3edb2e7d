package kit

import "context"

// Transport names the surface a call arrived on.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportMCP  Transport = "mcp"
)

type ctxKey int

const (
	transportKey ctxKey = iota
	traceIDKey
	sessionIDKey
	remoteAddrKey
	roleKey
)

func stringValue(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithTransport records the surface serving the call.
func WithTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to TransportHTTP: only the MCP adapter sets it.
func GetTransport(ctx context.Context) Transport {
	if v, ok := ctx.Value(transportKey).(Transport); ok {
		return v
	}
	return TransportHTTP
}

// WithTraceID is set by shield.TraceID and copied into SQL trace rows.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}
func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

// WithSessionID stores the editor session ("ses_...") the call operates on.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}
func GetSessionID(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string { return stringValue(ctx, remoteAddrKey) }

// WithRole marks the caller's role: "admin" once basic auth or an admin
// token has been accepted.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}
func GetRole(ctx context.Context) string { return stringValue(ctx, roleKey) }

// CallAttrs returns the call identity as slog key/value pairs, skipping
// unset values. The transport is always present.
func CallAttrs(ctx context.Context) []any {
	attrs := []any{"transport", string(GetTransport(ctx))}
	for _, kv := range []struct {
		key string
		k   ctxKey
	}{
		{"session_id", sessionIDKey},
		{"trace_id", traceIDKey},
		{"role", roleKey},
		{"remote_addr", remoteAddrKey},
	} {
		if v := stringValue(ctx, kv.k); v != "" {
			attrs = append(attrs, kv.key, v)
		}
	}
	return attrs
}
