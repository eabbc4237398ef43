package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/freight-ledger/internal/access"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/auth"
	"github.com/ukydev/freight-ledger/internal/models"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	authService, err := auth.NewService("middleware-test", time.Hour)
	require.NoError(t, err)
	return authService
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService := newAuthService(t)

	// Test successful authentication
	t.Run("valid token", func(t *testing.T) {
		users := new(MockUserCollection)
		middleware := NewAuthMiddleware(authService, users)
		user := &models.User{Email: "clerk@example.com", Name: "Clerk", Role: models.RoleUser}
		users.On("FindUserByEmail", mock.Anything, "clerk@example.com").Return(user, nil)
		token, _ := authService.GenerateToken(user)

		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			caller, ok := GetCallerFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, user.Email, caller.Identity)
			assert.Equal(t, user.Role, caller.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
		users.AssertExpectations(t)
	})

	// Test missing authorization header
	t.Run("missing authorization header", func(t *testing.T) {
		middleware := NewAuthMiddleware(authService, new(MockUserCollection))
		req := httptest.NewRequest("GET", "/api/trips", nil)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	// Test invalid token
	t.Run("invalid token", func(t *testing.T) {
		middleware := NewAuthMiddleware(authService, new(MockUserCollection))
		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("account removed", func(t *testing.T) {
		users := new(MockUserCollection)
		middleware := NewAuthMiddleware(authService, users)
		users.On("FindUserByEmail", mock.Anything, "gone@example.com").Return(nil, apperr.ErrNotFound)
		token, _ := authService.GenerateToken(&models.User{Email: "gone@example.com"})

		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("user store failure", func(t *testing.T) {
		users := new(MockUserCollection)
		middleware := NewAuthMiddleware(authService, users)
		users.On("FindUserByEmail", mock.Anything, "clerk@example.com").Return(nil, errors.New("timeout"))
		token, _ := authService.GenerateToken(&models.User{Email: "clerk@example.com"})

		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unknown stored role", func(t *testing.T) {
		users := new(MockUserCollection)
		middleware := NewAuthMiddleware(authService, users)
		users.On("FindUserByEmail", mock.Anything, "odd@example.com").
			Return(&models.User{Email: "odd@example.com", Role: "superuser"}, nil)
		token, _ := authService.GenerateToken(&models.User{Email: "odd@example.com"})

		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	// Test skip auth paths
	t.Run("skip auth path", func(t *testing.T) {
		middleware := NewAuthMiddleware(authService, new(MockUserCollection))
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("skip auth path picks up a valid token", func(t *testing.T) {
		users := new(MockUserCollection)
		middleware := NewAuthMiddleware(authService, users)
		admin := &models.User{Email: "boss@example.com", Role: models.RoleAdmin}
		users.On("FindUserByEmail", mock.Anything, "boss@example.com").Return(admin, nil)
		token, _ := authService.GenerateToken(admin)

		req := httptest.NewRequest("POST", "/api/auth/register", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var caller models.Caller
		var found bool
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, found = GetCallerFromContext(r.Context())
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		require.True(t, found)
		assert.Equal(t, models.RoleAdmin, caller.Role)
	})

	t.Run("skip auth path ignores a bad token", func(t *testing.T) {
		middleware := NewAuthMiddleware(authService, new(MockUserCollection))
		req := httptest.NewRequest("POST", "/api/auth/register", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			_, ok := GetCallerFromContext(r.Context())
			assert.False(t, ok)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
	})

	t.Run("me is not skipped", func(t *testing.T) {
		middleware := NewAuthMiddleware(authService, new(MockUserCollection))
		req := httptest.NewRequest("GET", "/api/auth/me", nil)
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthMiddleware_RequireAction(t *testing.T) {
	middleware := NewAuthMiddleware(newAuthService(t), new(MockUserCollection))

	tests := []struct {
		name   string
		caller *models.Caller
		action access.Action
		want   int
	}{
		{"admin may view analytics", &models.Caller{Role: models.RoleAdmin}, access.ActionViewAnalytics, http.StatusOK},
		{"user may not view analytics", &models.Caller{Role: models.RoleUser}, access.ActionViewAnalytics, http.StatusForbidden},
		{"user may create", &models.Caller{Role: models.RoleUser}, access.ActionCreateTrip, http.StatusOK},
		{"motor owner may not export", &models.Caller{Role: models.RoleMotorOwner}, access.ActionExportTrips, http.StatusForbidden},
		{"no caller", nil, access.ActionCreateTrip, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/analytics/parties", nil)
			if tt.caller != nil {
				req = req.WithContext(WithCaller(req.Context(), *tt.caller))
			}
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			middleware.RequireAction(tt.action)(handler).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware()

	t.Run("rate limit not exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		rateLimitHandler := middleware.RateLimit(5, time.Minute)(handler)
		rateLimitHandler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = "192.168.1.2:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		rateLimitHandler := middleware.RateLimit(1, time.Minute)(handler)

		// First request should succeed
		rateLimitHandler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)

		// Second request should be rate limited
		w = httptest.NewRecorder()
		handlerCalled = false
		rateLimitHandler.ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewRateLimitMiddleware()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.allow("10.0.0.1", 1, time.Minute))
		assert.False(t, limiter.allow("10.0.0.1", 1, time.Minute))
		assert.True(t, limiter.allow("10.0.0.2", 1, time.Minute))

		now = now.Add(61 * time.Second)
		assert.True(t, limiter.allow("10.0.0.1", 1, time.Minute))
	})
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}

func TestGetCallerFromContext(t *testing.T) {
	caller := models.Caller{Identity: "clerk@example.com", Role: models.RoleUser}

	retrieved, ok := GetCallerFromContext(WithCaller(context.Background(), caller))
	assert.True(t, ok)
	assert.Equal(t, caller, retrieved)

	// Test with no caller in context
	_, ok = GetCallerFromContext(context.Background())
	assert.False(t, ok)
}
