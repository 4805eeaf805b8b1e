package internal

import (
	"context"
	"strings"
)

type actorKey struct{}

// SystemActor is recorded on transitions the engine makes on its own, such
// as SLA evaluation and token expiry.
const SystemActor = "system"

// ActorIDFromContext returns the identity that issued the current command,
// or "" for an anonymous caller.
func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actorID, _ := ctx.Value(actorKey{}).(string)
	return actorID
}

func ContextWithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actorID))
}
