package domain

import "context"

type requestKey struct{}

// RequestScope identifies who is serving a request. Tools and providers
// read it for logs and spans.
type RequestScope struct {
	SessionID string // empty outside per-request sessions
	Agent     string
}

// WithSessionID records the session serving ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	s := ScopeFrom(ctx)
	s.SessionID = id
	return context.WithValue(ctx, requestKey{}, s)
}

// WithAgent records the agent serving ctx.
func WithAgent(ctx context.Context, name string) context.Context {
	s := ScopeFrom(ctx)
	s.Agent = name
	return context.WithValue(ctx, requestKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or the zero scope.
func ScopeFrom(ctx context.Context) RequestScope {
	s, _ := ctx.Value(requestKey{}).(RequestScope)
	return s
}

// LogAttrs returns the non-empty scope fields as slog key-value pairs.
func (s RequestScope) LogAttrs() []any {
	var attrs []any
	if s.Agent != "" {
		attrs = append(attrs, "agent", s.Agent)
	}
	if s.SessionID != "" {
		attrs = append(attrs, "session", s.SessionID)
	}
	return attrs
}
