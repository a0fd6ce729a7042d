package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/kantorhub/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestSessionFromAccessToken(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, jwt.MapClaims{
		"sub":   testUserID,
		"email": "pepe.rone@example.com",
		"exp":   expiresAt.Unix(),
		"user_metadata": map[string]any{
			"name": "Pepe Rone",
			"role": "manager",
		},
	})

	session, err := identity.SessionFromAccessToken(raw)
	require.NoError(t, err)

	assert.Equal(t, raw, session.GetAccessToken())
	assert.Equal(t, testUserID, session.GetUserID())
	assert.Equal(t, "pepe.rone@example.com", session.GetEmail())
	require.NotNil(t, session.GetExpiresAt())
	assert.True(t, session.GetExpiresAt().Equal(expiresAt))

	id := session.GetIdentity()
	require.NotNil(t, id)
	assert.Equal(t, "Pepe Rone", id.Metadata["name"])
	assert.Equal(t, "manager", id.Metadata["role"])
}

func TestSessionFromAccessTokenMalformed(t *testing.T) {
	_, err := identity.SessionFromAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Now()

	past := now.Add(-time.Minute)
	expired := &identity.SessionObject{ExpiresAt: &past}
	assert.True(t, expired.IsExpired(now))

	future := now.Add(time.Minute)
	live := &identity.SessionObject{ExpiresAt: &future}
	assert.False(t, live.IsExpired(now))

	// sessions without an expiry never expire locally
	open := &identity.SessionObject{}
	assert.False(t, open.IsExpired(now))
}

func TestSessionObjectNilUser(t *testing.T) {
	session := &identity.SessionObject{}
	assert.Empty(t, session.GetUserID())
	assert.Empty(t, session.GetEmail())
	assert.Nil(t, session.GetIdentity())

	_, err := session.GetUserUUID()
	assert.Error(t, err)
}

func TestHasUserUUID(t *testing.T) {
	assert.True(t, identity.HasUserUUID(testSession(testUserID, "x@example.com")))
	assert.False(t, identity.HasUserUUID(testSession("provider|1234", "x@example.com")))
	assert.False(t, identity.HasUserUUID(nil))
}
