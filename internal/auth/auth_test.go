package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue("user-1", "patient")
	require.NoError(t, err)

	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "patient", claims.Role)
}

func TestTokenWrongSecret(t *testing.T) {
	raw, err := NewTokens("secret", time.Hour).Issue("user-1", "patient")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Parse(raw)
	require.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	tokens := NewTokens("secret", 15*time.Minute)
	issued := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }

	raw, err := tokens.Issue("user-1", "doctor")
	require.NoError(t, err)

	tokens.now = func() time.Time { return issued.Add(16 * time.Minute) }
	_, err = tokens.Parse(raw)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAlgorithmConfusion(t *testing.T) {
	c := Claims{UserID: "user-1", Role: "patient"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, c).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Hour).Parse(raw)
	require.Error(t, err)
}
