// Package guard resolves the acting user from a request context and decides
// what that user may do with a piece of content.
package guard

import (
	"context"

	"scrivono/api/internal/domain"
)

type Relation string
type Action string

const (
	RelationAnonymous Relation = "anonymous"
	RelationMember    Relation = "member"
	RelationOwner     Relation = "owner"
)

const (
	ActionRead   Action = "read"
	ActionReact  Action = "react"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

type actorKey struct{}

// WithActor returns a context carrying the authenticated user id.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor returns the authenticated user id or an authentication error.
func Actor(ctx context.Context) (string, error) {
	userID, _ := ctx.Value(actorKey{}).(string)
	if userID == "" {
		return "", domain.Authentication()
	}
	return userID, nil
}

// Relate classifies actorID relative to the owner of some content.
func Relate(actorID, ownerID string) Relation {
	switch {
	case actorID == "":
		return RelationAnonymous
	case actorID == ownerID:
		return RelationOwner
	default:
		return RelationMember
	}
}

// Can reports whether a relation permits an action. Published controls whether
// non-owners may see the content at all.
func Can(rel Relation, action Action, published bool) bool {
	switch rel {
	case RelationOwner:
		return true
	case RelationMember:
		if !published {
			return false
		}
		return action == ActionRead || action == ActionReact
	case RelationAnonymous:
		return published && action == ActionRead
	default:
		return false
	}
}

// RequireOwner fails unless actorID owns the content. what names it in the message ("Book").
func RequireOwner(actorID, ownerID, what string) error {
	if actorID == "" {
		return domain.Authentication()
	}
	if actorID != ownerID {
		return domain.Forbidden(what + " is not yours.")
	}
	return nil
}
