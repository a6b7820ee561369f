package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyActorID   contextKey = "actor_id"
	keyActorRole contextKey = "actor_role"
)

// Role is the account role of a collaborator.
type Role string

const (
	// RoleAdmin may move any task anywhere and administer the chain.
	RoleAdmin Role = "admin"
	// RoleCollaborator participates in the handoff chain.
	RoleCollaborator Role = "collaborator"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCollaborator
}

// WithRequestID adds a request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithActorID adds the authenticated actor ID to context.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyActorID, id)
}

// ActorID extracts the authenticated actor ID from context.
func ActorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyActorID).(string)
	return v, ok && v != ""
}

// WithActorRole adds the authenticated actor role to context.
func WithActorRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, keyActorRole, role)
}

// ActorRole extracts the authenticated actor role from context.
func ActorRole(ctx context.Context) (Role, bool) {
	v, ok := ctx.Value(keyActorRole).(Role)
	return v, ok && v.Valid()
}
