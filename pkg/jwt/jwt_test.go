package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() *Claims {
	return &Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "auth-service",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:   "user-1",
		Username: "alice",
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "auth-service")

	claims, err := v.Verify(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, "")
	_, err := v.Verify(signToken(t, "other-secret", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret, "")
	claims := validClaims()
	claims.ExpiresAt = gojwt.NewNumericDate(time.Now().Add(-time.Hour))

	_, err := v.Verify(signToken(t, testSecret, claims))
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	v := NewVerifier(testSecret, "auth-service")
	claims := validClaims()
	claims.Issuer = "someone-else"

	_, err := v.Verify(signToken(t, testSecret, claims))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifySubjectFallback(t *testing.T) {
	v := NewVerifier(testSecret, "")
	claims := validClaims()
	claims.UserID = ""

	got, err := v.Verify(signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier(testSecret, "")
	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
