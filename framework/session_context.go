package framework

import "context"

type sessionContextKey struct{}

// SessionContext carries the repair session identity through contexts so
// telemetry emitted below the loop (engine calls, runner output) can be
// correlated to a specific iteration.
type SessionContext struct {
	ID        string
	Iteration int
}

// WithSessionContext attaches session metadata to the context.
func WithSessionContext(ctx context.Context, session SessionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionContextFrom extracts session metadata, if present.
func SessionContextFrom(ctx context.Context) (SessionContext, bool) {
	if ctx == nil {
		return SessionContext{}, false
	}
	val := ctx.Value(sessionContextKey{})
	session, ok := val.(SessionContext)
	return session, ok
}
