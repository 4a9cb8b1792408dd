// Package domain holds the user aggregate shared by the repository and the
// auth service.
package domain

import (
	"errors"
	"time"
)

// Role is the platform-wide role of a user.
type Role string

const (
	RoleFan     Role = "fan"
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

// User is the relational-store record for one account. PasswordHash is the
// bcrypt hash; plaintext passwords never reach this type.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlatformAccess is one (user, platform) grant.
type PlatformAccess struct {
	Platform     string    `json:"platform"`
	AccessLevel  string    `json:"accessLevel"`
	Permissions  []string  `json:"permissions"`
	SubscribedAt time.Time `json:"subscribedAt"`
	Active       bool      `json:"active"`
}

// Validate checks required fields before persistence.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user: id is required")
	}
	if u.Username == "" {
		return errors.New("user: username is required")
	}
	if u.Email == "" {
		return errors.New("user: email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("user: password hash is required")
	}
	if u.Role == "" {
		return errors.New("user: role is required")
	}
	return nil
}

// DefaultPermissions returns the grants a fresh registration receives on its
// home platform.
func DefaultPermissions(platform string) []string {
	return []string{platform + ":read", platform + ":write"}
}
