package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/auth"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/middleware"
	"github.com/ukydev/freight-ledger/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
	}
}

// Login exchanges email and password for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if !decodeJSON(w, r, &loginReq) {
		return
	}

	// Validate input
	if loginReq.Email == "" || loginReq.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), loginReq.Email)
	if err != nil {
		if apperr.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		respondError(w, r, err)
		return
	}

	// Verify password
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		respondError(w, r, fmt.Errorf("generate token: %w", err))
		return
	}

	log.WithFields(log.Fields{"email": user.Email, "role": user.Role}).Info("User logged in")
	writeJSON(w, http.StatusOK, models.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        *user,
	})
}

// Register creates an account. Anyone may register as user or motor_owner;
// registering an admin takes an admin token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if !decodeJSON(w, r, &registerReq) {
		return
	}

	if registerReq.Role == "" {
		registerReq.Role = models.RoleUser
	}
	role, err := models.ParseRole(string(registerReq.Role))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	if role == models.RoleAdmin {
		caller, ok := middleware.GetCallerFromContext(r.Context())
		if !ok || caller.Role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "Only an admin can register an admin")
			return
		}
	}

	registerReq.Email = strings.TrimSpace(registerReq.Email)
	if err := h.authService.ValidateLogin(registerReq.Email, role); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.authService.ValidatePassword(registerReq.Password); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.authService.ValidateName(registerReq.Name); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := h.createUser(r.Context(), registerReq.Email, registerReq.Password, registerReq.Name, role)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		respondError(w, r, err)
		return
	}

	log.WithFields(log.Fields{"email": user.Email, "role": user.Role}).Info("User registered")
	writeJSON(w, http.StatusCreated, user)
}

// Me returns the account behind the bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), caller.Identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// EnsureAdmin creates the bootstrap admin account unless an account with that
// email already exists. It does nothing when email or password is empty.
func (h *AuthHandler) EnsureAdmin(ctx context.Context, email, password, name string) error {
	if email == "" || password == "" {
		return nil
	}
	existing, err := h.userCollection.FindUserByEmail(ctx, email)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			log.WithField("email", email).Warn("Bootstrap admin email belongs to a non-admin account")
		}
		return nil
	}
	if !apperr.IsNotFound(err) {
		return fmt.Errorf("look up admin: %w", err)
	}
	if name == "" {
		name = "Administrator"
	}
	if _, err := h.createUser(ctx, email, password, name, models.RoleAdmin); err != nil {
		// Another instance may have won the race.
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return err
	}
	log.WithField("email", email).Info("Bootstrap admin created")
	return nil
}

func (h *AuthHandler) createUser(ctx context.Context, email, password, name string, role models.Role) (*models.User, error) {
	if _, err := h.userCollection.FindUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	} else if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	passwordHash, err := h.authService.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Email:        strings.ToLower(email),
		Name:         name,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := h.userCollection.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}
