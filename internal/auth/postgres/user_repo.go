// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/petiverso/petiverso/internal/auth"
)

// Unique constraints on the users table, as named in the migrations.
const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

const selectUserColumns = `SELECT id, external_id, username, email, password_hash, created_at FROM users`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user. Uniqueness is enforced by the database.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, external_id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		user.ID.String(),
		user.ExternalID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err == nil {
		return nil
	}

	if constraint, ok := uniqueViolation(err); ok {
		dup := &auth.DuplicateIdentityError{}
		switch constraint {
		case constraintUsername:
			dup.Field = auth.FieldUsername
		case constraintEmail:
			dup.Field = auth.FieldEmail
		}
		return oops.Code("USER_DUPLICATE").
			With("constraint", constraint).
			With("username", user.Username).
			Wrap(dup)
	}

	return oops.Code("USER_CREATE_FAILED").
		With("operation", "insert user").
		With("username", user.Username).
		Wrap(err)
}

// GetByID retrieves a user by internal key.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectUserColumns+` WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByExternalID retrieves a user by external identifier.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectUserColumns+` WHERE external_id = $1`, externalID)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("external_id", externalID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EXTERNAL_ID_FAILED").
			With("operation", "get user by external id").
			With("external_id", externalID.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectUserColumns+` WHERE username = $1`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged for callers to handle with context.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr      string
		externalID uuid.UUID
		username   string
		email      string
		hash       string
		createdAt  time.Time
	)

	if err := row.Scan(&idStr, &externalID, &username, &email, &hash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:           id,
		ExternalID:   externalID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
