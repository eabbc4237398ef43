package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService("test-secret", time.Hour)
	require.NoError(t, err)
	return service
}

func TestNewService(t *testing.T) {
	service, err := NewService("secret", 0)
	assert.NoError(t, err)
	assert.NotNil(t, service)
	assert.Equal(t, []byte("secret"), service.jwtSecret)
	assert.Equal(t, DefaultTokenExpiry, service.tokenExp)

	random, err := NewService("", time.Hour)
	assert.NoError(t, err)
	assert.Len(t, random.jwtSecret, 32)
}

func TestService_HashPassword(t *testing.T) {
	service := newTestService(t)

	password := "testpassword123"
	hash, err := service.HashPassword(password)

	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)
}

func TestService_CheckPassword(t *testing.T) {
	service := newTestService(t)

	password := "testpassword123"
	hash, _ := service.HashPassword(password)

	// Test correct password
	assert.True(t, service.CheckPassword(password, hash))

	// Test incorrect password
	assert.False(t, service.CheckPassword("wrongpassword", hash))
}

func TestService_ValidateToken(t *testing.T) {
	service := newTestService(t)

	user := &models.User{Email: "clerk@example.com", Role: models.RoleUser}

	token, err := service.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Test valid token
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, user.Email, claims.Subject)

	// Test invalid token
	_, err = service.ValidateToken("invalid-token")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	// Test token with Bearer prefix
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)
}

func TestService_ValidateToken_WrongSecret(t *testing.T) {
	issuer := newTestService(t)
	other, err := NewService("another-secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.GenerateToken(&models.User{Email: "a@b.co"})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_TokenExpiration(t *testing.T) {
	service := newTestService(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return issued }

	token, err := service.GenerateToken(&models.User{Email: "clerk@example.com"})
	require.NoError(t, err)

	// Token should be valid immediately
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, issued.Add(time.Hour).Unix(), claims.Exp)

	service.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := newTestService(t)

	// Test valid header
	token := "valid-token"
	header := "Bearer " + token
	extracted, err := service.ExtractTokenFromHeader(header)
	assert.NoError(t, err)
	assert.Equal(t, token, extracted)

	// Test empty header
	_, err = service.ExtractTokenFromHeader("")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test invalid format
	_, err = service.ExtractTokenFromHeader("InvalidFormat")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test missing token
	_, err = service.ExtractTokenFromHeader("Bearer ")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidatePassword(t *testing.T) {
	service := newTestService(t)

	// Test valid password
	err := service.ValidatePassword("validpassword123")
	assert.NoError(t, err)

	// Test too short password
	err = service.ValidatePassword("short")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestService_ValidateEmail(t *testing.T) {
	service := newTestService(t)

	// Test valid email
	err := service.ValidateEmail("test@example.com")
	assert.NoError(t, err)

	for _, bad := range []string{"testexample.com", "test@", "test", "@example.com", "a b@example.com"} {
		err = service.ValidateEmail(bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, bad)
		assert.Contains(t, err.Error(), "invalid email format")
	}
}

func TestService_ValidateLogin(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidateLogin("9876543210", models.RoleMotorOwner))
	assert.NoError(t, service.ValidateLogin("+919876543210", models.RoleMotorOwner))
	assert.NoError(t, service.ValidateLogin("owner@example.com", models.RoleMotorOwner))
	assert.Error(t, service.ValidateLogin("9876543210", models.RoleUser))
	assert.Error(t, service.ValidateLogin("98765", models.RoleMotorOwner))
}

func TestService_ValidateName(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidateName("Ramesh"))
	assert.ErrorIs(t, service.ValidateName("  "), apperr.ErrValidation)
	assert.ErrorIs(t, service.ValidateName(strings.Repeat("a", 101)), apperr.ErrValidation)
}
