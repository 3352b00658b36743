package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret-key-for-testing-purposes"

func TestGenerateAndValidate(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, "ada@example.com", []string{"student"}, "cus_123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, []string{"student"}, claims.Roles)
	assert.Equal(t, "cus_123", claims.StripeCustomerID)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestValidateAccessToken_Failures(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	userID := uuid.New()

	sign := func(claims Claims, method jwt.SigningMethod, key interface{}) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	registered := func(expiry time.Time) jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    Issuer,
		}
	}

	t.Run("Expired", func(t *testing.T) {
		token := sign(Claims{UserID: userID, TokenType: AccessToken, RegisteredClaims: registered(time.Now().Add(-time.Minute))},
			jwt.SigningMethodHS256, []byte(testSecret))
		_, err := service.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		other := NewService("another-secret", time.Hour)
		token, err := other.GenerateAccessToken(userID, "", nil, "")
		require.NoError(t, err)
		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		claims := Claims{UserID: userID, TokenType: AccessToken, RegisteredClaims: registered(time.Now().Add(time.Hour))}
		claims.Issuer = "someone-else"
		_, err := service.ValidateAccessToken(sign(claims, jwt.SigningMethodHS256, []byte(testSecret)))
		assert.Error(t, err)
	})

	t.Run("Wrong token type", func(t *testing.T) {
		token := sign(Claims{UserID: userID, TokenType: "refresh", RegisteredClaims: registered(time.Now().Add(time.Hour))},
			jwt.SigningMethodHS256, []byte(testSecret))
		_, err := service.ValidateAccessToken(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token type")
	})

	t.Run("Missing user id", func(t *testing.T) {
		token := sign(Claims{TokenType: AccessToken, RegisteredClaims: registered(time.Now().Add(time.Hour))},
			jwt.SigningMethodHS256, []byte(testSecret))
		_, err := service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Unsigned", func(t *testing.T) {
		token := sign(Claims{UserID: userID, TokenType: AccessToken, RegisteredClaims: registered(time.Now().Add(time.Hour))},
			jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
		_, err := service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := service.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
	})
}
