package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthEvent is the opaque event token emitted by the identity provider.
type AuthEvent = string

const (
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Unsubscribe detaches a listener registration. Safe to call more than once.
type Unsubscribe func()

// AuthStateListener receives provider auth events. A nil session accompanies
// SIGNED_OUT.
type AuthStateListener func(event AuthEvent, session Session)

// Session holds the attributes of a provider-issued credential. The provider
// owns the credential; this package only observes it.
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetEmail() string
	GetAccessToken() string
	GetExpiresAt() *time.Time
	GetIdentity() *Identity
}

// Identity is the external provider's user record. Read-only here except for
// the metadata map, which IdentitySync may patch through the provider.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Provider is the external identity provider surface this subsystem consumes.
type Provider interface {
	GetSession(ctx context.Context) (Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error
	UpdateUserMetadata(ctx context.Context, data map[string]any) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	OnAuthStateChange(listener AuthStateListener) Unsubscribe
}

// MetadataWriter is the subset of Provider needed by IdentitySync.
type MetadataWriter interface {
	UpdateUserMetadata(ctx context.Context, data map[string]any) error
}

// PasswordResetSender is the subset of Provider needed by the password reset
// request command.
type PasswordResetSender interface {
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
