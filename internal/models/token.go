package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// IdentityClaims are the user attributes copied into an access token at
// issuance. They are a snapshot and are not re-read on verification.
type IdentityClaims struct {
	Username   string `json:"username,omitempty"`
	IsAdmin    bool   `json:"is_admin,omitempty"`
	IsVerified bool   `json:"is_verified,omitempty"`
}

// TokenClaims is the signed payload of both token kinds. Subject carries the
// user id, ExpiresAt is absolute.
type TokenClaims struct {
	jwt.RegisteredClaims
	SessionID  string          `json:"sid"`
	Kind       TokenKind       `json:"kind"`
	Generation int64           `json:"gen"`
	Identity   *IdentityClaims `json:"idt,omitempty"`
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Identity is what a verified access token authorizes.
type Identity struct {
	UserID    string
	SessionID string
	Claims    IdentityClaims
}
