// Package actor identifies who initiates a core operation. Authorization and
// auditing decisions are made against an explicit Actor value instead of
// ambient session state.
package actor

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	TypeUser   Type = "user"
	TypeSystem Type = "system"
)

// Actor is a tagged identity: either a user with roles, or the system itself
// (scheduler jobs, webhook deliveries).
type Actor struct {
	Type   Type
	UserID snowflake.ID
	Roles  []string
}

func User(id snowflake.ID, roles ...string) Actor {
	return Actor{Type: TypeUser, UserID: id, Roles: roles}
}

func System() Actor {
	return Actor{Type: TypeSystem}
}

func (a Actor) IsSystem() bool { return a.Type == TypeSystem }

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor on the context, defaulting to System when
// absent so background operations are always attributable.
func FromContext(ctx context.Context) Actor {
	if ctx == nil {
		return System()
	}
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return System()
}
