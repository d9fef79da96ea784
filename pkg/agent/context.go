package agent

import "context"

// Invocation identifies the command invocation a handler is running for.
// It travels on the handler's context so that concurrently executing async
// commands never observe each other's command id.
type Invocation struct {
	CommandID string
	Dir       string
}

type invocationKey struct{}

// WithInvocation binds an invocation to ctx.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation bound to ctx, if any.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
