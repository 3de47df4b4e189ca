package kit

import "context"

type contextKey string

const (
	// TransportKey records which surface a request arrived on: "http" or "mcp".
	TransportKey contextKey = "kit_transport"
	// RequestIDKey carries the per-request ID assigned at the edge.
	RequestIDKey contextKey = "kit_request_id"
	// AccountKey carries the posting-account handle a request targets.
	AccountKey contextKey = "kit_account"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport a request arrived on, defaulting to
// "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithAccount(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, AccountKey, handle)
}

func GetAccount(ctx context.Context) string {
	v, _ := ctx.Value(AccountKey).(string)
	return v
}
