// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is a registered account.
type User struct {
	ID           ulid.ULID // internal storage key
	ExternalID   uuid.UUID // identifier exposed to clients
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserSummary is the public projection of a User.
type UserSummary struct {
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary returns the public projection of the user.
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		UserID:    u.ExternalID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// NewUser creates a User with fresh identifiers.
// Input shape (lengths, formats) is validated by the caller; NewUser only
// rejects values that can never be stored.
func NewUser(username, email, passwordHash string, now time.Time) (*User, error) {
	if username == "" {
		return nil, oops.Code("USER_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		ExternalID:   uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now.UTC(),
	}, nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. A username or email collision returns an error
	// matching ErrDuplicateIdentity, as a *DuplicateIdentityError when the
	// colliding field is known.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by internal key.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByExternalID retrieves a user by external identifier.
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*User, error)

	// GetByUsername retrieves a user by exact (case-sensitive) username.
	GetByUsername(ctx context.Context, username string) (*User, error)
}
