package alarm

import "context"

// Actor identifies who requested an operation, for audit and logs.
type Actor struct {
	Source string // "web", "api", "telegram", "timer"
	ID     int64  // chat user id when known
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or the zero Actor.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
