package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents a caller's role in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleMotorOwner Role = "motor_owner"
)

// ParseRole converts a stored or submitted role label into a Role.
// Unknown labels are rejected rather than treated as a default role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleUser, RoleMotorOwner:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	_, err := ParseRole(string(role))
	return err == nil
}

// User represents an account in the users collection, keyed by email.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Email        string             `bson:"email" json:"email"`
	Name         string             `bson:"name" json:"name"`
	Role         Role               `bson:"role" json:"role"`
	PasswordHash string             `bson:"password" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	Identity string
	Name     string
	Role     Role
}

// Caller returns the request identity for u.
func (u *User) Caller() Caller {
	return Caller{Identity: u.Email, Name: u.Name, Role: u.Role}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// Claims represents the verified contents of an access token
type Claims struct {
	Subject string `json:"sub"`
	Exp     int64  `json:"exp"`
}
