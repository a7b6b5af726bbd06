package svcclient

import "context"

// RequestIDHeader carries the inbound request id across internal calls so a
// webhook and the order confirmation it triggers share one id in the logs.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// ContextWithRequestID stores the id forwarded on outgoing calls.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
