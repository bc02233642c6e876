package core

import (
	"context"
	"time"
)

// Profile is the public part of a user.
type Profile struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	DisplayName   *string   `json:"display_name"`
	AvatarURL     *string   `json:"avatar_url"`
	Bio           *string   `json:"bio"`
	StatusMessage *string   `json:"status_message"`
	IsOnline      bool      `json:"is_online"`
	LastSeen      time.Time `json:"last_seen"`
}

// Name returns the display name of the profile, falling back to the username.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Username
}

// User is the input for registering a new user.
type User struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=6"`
	Username    string  `json:"username" validate:"required,alphanum,min=2,max=32"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=64"`
}

func (u *User) Validate() error {
	return validate.Struct(u)
}

// Identity is the authenticated user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type UserStore interface {
	// CreateUser creates a user and its profile.
	// If the email or username is taken, it returns ErrConflict.
	CreateUser(ctx context.Context, user User) (*Identity, error)

	// GetIdentityByEmail returns nil if no user has the email.
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)

	// ComparePassword reports whether the password matches the user's password.
	ComparePassword(ctx context.Context, email, password string) (bool, error)

	// GetProfile returns the profile of the user.
	// If the user does not exist, it returns ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SearchProfiles returns up to limit profiles whose username or display name contains q, case-insensitively.
	SearchProfiles(ctx context.Context, q string, limit int) ([]Profile, error)

	// SetOnline updates the online flag and last seen time of the user.
	SetOnline(ctx context.Context, userID string, online bool) error
}
