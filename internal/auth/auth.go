package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	ErrExpiredToken       = fmt.Errorf("%w: token expired", apperr.ErrUnauthenticated)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
)

// DefaultTokenExpiry is how long an access token stays valid.
const DefaultTokenExpiry = 7 * 24 * time.Hour

// Service handles authentication operations
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	now       func() time.Time
}

// NewService creates a new authentication service. Without a secret a random
// one is generated, so issued tokens stop working when the process exits.
func NewService(secret string, exp time.Duration) (*Service, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		log.Warn("JWT_SECRET not set, using a random secret for this process")
	}
	if exp <= 0 {
		exp = DefaultTokenExpiry
	}
	return &Service{
		jwtSecret: key,
		tokenExp:  exp,
		now:       time.Now,
	}, nil
}

// HashPassword hashes a password using bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword checks if a password matches a hash
func (s *Service) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken generates a JWT token whose subject is the user's email.
func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExp)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		Subject: claims.Subject,
		Exp:     claims.ExpiresAt.Unix(),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// ValidatePassword validates password strength
func (s *Service) ValidatePassword(password string) error {
	if len(password) < 8 {
		return apperr.Invalid("password", "must be at least 8 characters long")
	}
	return nil
}

// ValidateEmail validates email format
func (s *Service) ValidateEmail(email string) error {
	at := strings.Index(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") || strings.ContainsAny(email, " \t") {
		return apperr.Invalid("email", "invalid email format")
	}
	return nil
}

// ValidateLogin checks the login identifier of a new account. Motor owners
// may sign in with the mobile number their trips are recorded under.
func (s *Service) ValidateLogin(login string, role models.Role) error {
	if role == models.RoleMotorOwner && isMobile(login) {
		return nil
	}
	return s.ValidateEmail(login)
}

func isMobile(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 10 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateName validates the display name
func (s *Service) ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Invalid("name", "is required")
	}
	if len(name) > 100 {
		return apperr.Invalid("name", "must be less than 100 characters")
	}
	return nil
}
