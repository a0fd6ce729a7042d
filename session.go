package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the concrete view of a provider credential.
type SessionObject struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	User         *Identity  `json:"user,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.GetUserID())
}

func (s *SessionObject) GetEmail() string {
	if s.User == nil {
		return ""
	}
	return s.User.Email
}

func (s *SessionObject) GetAccessToken() string {
	return s.AccessToken
}

func (s *SessionObject) GetExpiresAt() *time.Time {
	return s.ExpiresAt
}

func (s *SessionObject) GetIdentity() *Identity {
	return s.User
}

// IsExpired reports whether the credential's expiry has passed.
func (s *SessionObject) IsExpired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

func (s SessionObject) String() string {
	expires := "<nil>"
	if s.ExpiresAt != nil {
		expires = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s exp=%s", s.GetUserID(), expires)
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// SessionFromAccessToken decodes a provider access token into a session view.
// The token's claims are read without signature verification: the provider
// owns the credential and its verification, we only need the embedded subject
// and metadata. Expiry is still honored by callers through GetExpiresAt.
func SessionFromAccessToken(raw string) (*SessionObject, error) {
	claims := &accessTokenClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "unable to decode access token").
			WithTextCode("TOKEN_MALFORMED")
	}

	session := &SessionObject{
		AccessToken: raw,
		User: &Identity{
			ID:       claims.Subject,
			Email:    claims.Email,
			Metadata: claims.UserMetadata,
		},
	}

	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		session.ExpiresAt = &expires
	}

	return session, nil
}
