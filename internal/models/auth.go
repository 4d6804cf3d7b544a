package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientMeta records where a session action came from, for the audit trail.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenPair is an issued access/refresh token pair. The refresh token is
// opaque and rotates on every use.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Session is the login response: the token pair plus who signed in.
type Session struct {
	TokenPair
	User AccountInfo `json:"user"`
}

// AccountInfo describes an account in responses, without credentials.
type AccountInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// ChangePasswordRequest rotates the caller's password. All refresh tokens
// are revoked on success.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// JWTClaims is the access-token payload.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}
