// Package domain holds the error kinds shared by the reaction and social
// packages and the resolver layer that maps them to API errors.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Resolvers map kinds 1:1 to API error codes.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindSelfFollow     Kind = "self_follow"
	KindDuplicateEdge  Kind = "duplicate_edge"
	KindNoSuchEdge     Kind = "no_such_edge"
	KindReconciliation Kind = "reconciliation"
	KindValidation     Kind = "validation"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "Not authenticated. Please be sure to log in!"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrSelfFollow     = &Error{Kind: KindSelfFollow, Message: "You trying to follow yourself? That's low..."}
	ErrDuplicateEdge  = &Error{Kind: KindDuplicateEdge, Message: "You already follow this person."}
	ErrNoSuchEdge     = &Error{Kind: KindNoSuchEdge, Message: "You don't follow this person."}
	ErrReconciliation = &Error{Kind: KindReconciliation, Message: "could not apply the change, please retry"}
	ErrValidation     = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrForbidden      = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "conflict"}
)

// Error is a typed domain failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) error   { return newError(KindNotFound, message, nil) }
func Validation(message string) error { return newError(KindValidation, message, nil) }
func Forbidden(message string) error  { return newError(KindForbidden, message, nil) }
func Conflict(message string) error   { return newError(KindConflict, message, nil) }

func Authentication() error { return newError(KindAuthentication, ErrAuthentication.Message, nil) }
func SelfFollow() error     { return newError(KindSelfFollow, ErrSelfFollow.Message, nil) }
func SelfUnfollow() error   { return newError(KindSelfFollow, "You trying to unfollow yourself? That should not be possible.", nil) }
func DuplicateEdge() error  { return newError(KindDuplicateEdge, ErrDuplicateEdge.Message, nil) }
func NoSuchEdge() error     { return newError(KindNoSuchEdge, ErrNoSuchEdge.Message, nil) }

// Reconciliation wraps a storage failure. The wrapped error stays reachable via errors.Unwrap
// but is never shown to callers.
func Reconciliation(op string, err error) error {
	return newError(KindReconciliation, op+": "+ErrReconciliation.Message, err)
}

// KindOf returns the kind of err, or "" if err is not a domain error.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// IsDomain reports whether err carries a domain kind.
func IsDomain(err error) bool { return KindOf(err) != "" }

// Retryable reports whether the whole operation may be re-attempted against fresh state.
func Retryable(err error) bool { return KindOf(err) == KindReconciliation }

// Public returns the message safe to show to an API caller.
func Public(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}
