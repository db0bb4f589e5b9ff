package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(method, Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseToken(t *testing.T) {
	claims, err := ParseToken(signToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(time.Minute)), testSecret)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.NotNil(t, claims.ExpiresAt)
}

func TestParseToken_Rejects(t *testing.T) {
	valid := signToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(time.Minute))

	_, err := ParseToken(valid, "another-secret")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(signToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(-time.Minute)), testSecret)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken("not.a.token", testSecret)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(valid, "")
	require.Error(t, err)
}
