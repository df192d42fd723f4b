package models

import "context"

type actorContextKey struct{}

// WithActor attaches the identity recorded as created_by on ledger entries.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the attached actor, or fallback when none is set.
func ActorFromContext(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return fallback
}
