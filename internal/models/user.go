package models

import "time"

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	IsVerified   bool
	CreatedAt    time.Time
}

// Claims returns the identity snapshot embedded into access tokens.
func (u *User) Claims() IdentityClaims {
	return IdentityClaims{
		Username:   u.Username,
		IsAdmin:    u.IsAdmin,
		IsVerified: u.IsVerified,
	}
}
