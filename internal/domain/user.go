package domain

import (
	"context"
	"time"
)

// Role is the authorization role carried by a user record and its tokens.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleModerator:
		return true
	default:
		return false
	}
}

// User is the account record read by the request pipeline.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	Role            Role
	IsActive        bool
	IsEmailVerified bool
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserLookup resolves a user by id. Implementations return pgx.ErrNoRows
// (or an apperr not-found error) when the user does not exist.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// LastLoginRecorder stamps the last successful authentication time.
type LastLoginRecorder interface {
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
