package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/access"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/auth"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	CallerContextKey contextKey = "caller"
)

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authService *auth.Service
	users       db.UserCollection
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *auth.Service, users db.UserCollection) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		users:       users,
	}
}

// Authenticate validates the bearer token, loads the account it names and
// adds the caller to the request context. The account is read on every
// request so a changed role applies at once.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Public endpoints still pick up a caller when a valid token is sent,
		// so an admin can register other admins.
		if shouldSkipAuth(r.URL.Path) {
			if caller, ok := m.optionalCaller(r); ok {
				r = r.WithContext(WithCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.authService.ExtractTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := m.users.FindUserByEmail(r.Context(), claims.Subject)
		if err != nil {
			if !apperr.IsNotFound(err) {
				log.WithError(err).Error("Failed to load user for token")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		if _, err := models.ParseRole(string(user.Role)); err != nil {
			log.WithField("email", user.Email).Warn("Account has an unknown role")
			http.Error(w, "Insufficient permissions", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), CallerContextKey, user.Caller())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) optionalCaller(r *http.Request) (models.Caller, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return models.Caller{}, false
	}
	token, err := m.authService.ExtractTokenFromHeader(header)
	if err != nil {
		return models.Caller{}, false
	}
	claims, err := m.authService.ValidateToken(token)
	if err != nil {
		return models.Caller{}, false
	}
	user, err := m.users.FindUserByEmail(r.Context(), claims.Subject)
	if err != nil || !models.IsValidRole(user.Role) {
		return models.Caller{}, false
	}
	return user.Caller(), true
}

// RequireAction middleware checks that the caller's role may perform action
func (m *AuthMiddleware) RequireAction(action access.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetCallerFromContext(r.Context())
			if !ok {
				http.Error(w, "User context not found", http.StatusUnauthorized)
				return
			}

			if !access.Allowed(caller.Role, action) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetCallerFromContext extracts the authenticated caller from request context
func GetCallerFromContext(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(CallerContextKey).(models.Caller)
	return caller, ok
}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, CallerContextKey, caller)
}

// shouldSkipAuth determines if authentication should be skipped for a given path
func shouldSkipAuth(path string) bool {
	// Skip auth for login and register endpoints
	skipPaths := []string{
		"/api/auth/login",
		"/api/auth/register",
		"/health",
	}

	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

// RateLimitMiddleware provides basic rate limiting
type RateLimitMiddleware struct {
	requests map[string][]time.Time // IP -> request times
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RateLimit allows each client IP maxRequests requests per window.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !m.allow(getClientIP(r), maxRequests, window) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(clientIP string, maxRequests int, window time.Duration) bool {
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Clean old requests outside the window
	recent := m.requests[clientIP][:0]
	for _, ts := range m.requests[clientIP] {
		if ts.After(windowStart) {
			recent = append(recent, ts)
		}
	}
	if len(recent) == 0 {
		delete(m.requests, clientIP)
	}

	if len(recent) >= maxRequests {
		m.requests[clientIP] = recent
		return false
	}
	m.requests[clientIP] = append(recent, now)
	return true
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to remote address
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
