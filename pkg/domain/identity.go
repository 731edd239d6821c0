package domain

import "context"

// Actor is the acting identity for a request.
type Actor struct {
	ID        string   `json:"id"`
	Roles     []string `json:"roles,omitempty"`
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
}

type actorKey struct{}

// WithActor returns a context carrying the acting identity.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the acting identity. ok is false when none is set or the id is empty.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, false
	}
	return a, true
}

type traceKey struct{}

// WithTraceID returns a context whose timeline events are linked to traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFrom returns the trace id carried by ctx, or "".
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
