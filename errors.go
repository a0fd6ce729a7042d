package identity

import (
	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

const (
	textCodeProfileNotFound = "PROFILE_NOT_FOUND"
	textCodeProfileConflict = "PROFILE_CONFLICT"
	textCodeChannelNotReady = "CHANNEL_NOT_READY"
	textCodeTransient       = "TRANSIENT_BACKEND"
)

// ErrProfileNotFound is returned when no profile row exists for an identity.
// Callers treat this as expected absence and fall back to create.
var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(textCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProfileConflict is returned when a concurrent create already produced the
// row. Callers switch to update.
var ErrProfileConflict = errors.New("profile already exists", errors.CategoryConflict).
	WithTextCode(textCodeProfileConflict).
	WithCode(errors.CodeConflict)

// ErrChannelNotReady is returned when a presence track is attempted before the
// channel reports SUBSCRIBED. Never retried internally; the caller re-attempts
// on the next status transition.
var ErrChannelNotReady = errors.New("presence channel is not subscribed", errors.CategoryOperation).
	WithTextCode(textCodeChannelNotReady)

// ErrChannelClosed is returned when using a channel after teardown.
var ErrChannelClosed = errors.New("presence channel is closed", errors.CategoryOperation).
	WithTextCode("CHANNEL_CLOSED")

// ErrAlreadySubscribed is returned when Subscribe is invoked twice on the same
// channel instance.
var ErrAlreadySubscribed = errors.New("presence channel already subscribed", errors.CategoryConflict).
	WithTextCode("CHANNEL_ALREADY_SUBSCRIBED")

// ErrResolverClosed is returned by resolver operations after teardown.
var ErrResolverClosed = errors.New("session resolver is closed", errors.CategoryOperation).
	WithTextCode("RESOLVER_CLOSED")

// ErrNotAuthenticated is returned when an operation requires a resolved user.
var ErrNotAuthenticated = errors.New("no authenticated user", errors.CategoryAuth).
	WithTextCode("NOT_AUTHENTICATED").
	WithCode(errors.CodeUnauthorized)

// ErrInvalidCredentials is surfaced to callers when a login attempt fails.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// IsNotFound reports expected absence: a profile row that does not exist, as
// opposed to a transient backend failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProfileNotFound) {
		return true
	}
	return errors.IsNotFound(err) || repository.IsRecordNotFound(err)
}

// IsConflict reports a concurrent create collision.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProfileConflict) {
		return true
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Category == errors.CategoryConflict
	}
	return false
}

// IsNotReady reports a presence track attempted before subscription.
func IsNotReady(err error) bool {
	return err != nil && errors.Is(err, ErrChannelNotReady)
}

// IsTransient reports failures that are neither expected absence nor a
// conflict. These degrade to metadata-only resolution and are logged, never
// surfaced as UI errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsNotFound(err) && !IsConflict(err) && !IsNotReady(err)
}

func transientError(err error, msg string) error {
	return errors.Wrap(err, errors.CategoryInternal, msg).
		WithTextCode(textCodeTransient)
}

func profileNotFound(id string) error {
	clone := ErrProfileNotFound.Clone()
	if clone == nil {
		return ErrProfileNotFound
	}
	clone.Source = ErrProfileNotFound
	return clone.WithMetadata(map[string]any{"id": id})
}

func profileConflict(id string) error {
	clone := ErrProfileConflict.Clone()
	if clone == nil {
		return ErrProfileConflict
	}
	clone.Source = ErrProfileConflict
	return clone.WithMetadata(map[string]any{"id": id})
}
