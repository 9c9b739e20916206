// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/auth/postgres"
)

var userColumns = []string{"id", "external_id", "username", "email", "password_hash", "created_at"}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("alice", "alice@example.com", "$argon2id$hash", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return user
}

func TestUserRepository_Create(t *testing.T) {
	tests := []struct {
		name      string
		dbErr     error
		wantErr   error
		wantField string
	}{
		{name: "inserts user"},
		{
			name:      "username collision",
			dbErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_username_key"},
			wantErr:   auth.ErrDuplicateIdentity,
			wantField: auth.FieldUsername,
		},
		{
			name:      "email collision",
			dbErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"},
			wantErr:   auth.ErrDuplicateIdentity,
			wantField: auth.FieldEmail,
		},
		{
			name:    "unknown constraint still reports duplicate",
			dbErr:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_pkey"},
			wantErr: auth.ErrDuplicateIdentity,
		},
		{
			name:  "connection failure",
			dbErr: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			user := testUser(t)
			exec := mock.ExpectExec(`INSERT INTO users`).
				WithArgs(user.ID.String(), user.ExternalID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
			if tt.dbErr != nil {
				exec.WillReturnError(tt.dbErr)
			} else {
				exec.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err = postgres.NewUserRepository(mock).Create(context.Background(), user)

			switch {
			case tt.dbErr == nil:
				require.NoError(t, err)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				var dup *auth.DuplicateIdentityError
				require.ErrorAs(t, err, &dup)
				assert.Equal(t, tt.wantField, dup.Field)
			default:
				require.Error(t, err)
				assert.NotErrorIs(t, err, auth.ErrDuplicateIdentity)
				assert.Contains(t, err.Error(), "connection refused")
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_GetByUsername(t *testing.T) {
	t.Run("returns user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		want := testUser(t)
		mock.ExpectQuery(`SELECT id, external_id, username, email, password_hash, created_at FROM users WHERE username`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows(userColumns).
				AddRow(want.ID.String(), want.ExternalID, want.Username, want.Email, want.PasswordHash, want.CreatedAt))

		got, err := postgres.NewUserRepository(mock).GetByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM users WHERE username`).
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		got, err := postgres.NewUserRepository(mock).GetByUsername(context.Background(), "ghost")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure is not a miss", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM users WHERE username`).
			WithArgs("alice").
			WillReturnError(errors.New("connection reset"))

		_, err = postgres.NewUserRepository(mock).GetByUsername(context.Background(), "alice")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt id column", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM users WHERE username`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows(userColumns).
				AddRow("not-a-ulid", uuid.New(), "alice", "alice@example.com", "hash", time.Now()))

		_, err = postgres.NewUserRepository(mock).GetByUsername(context.Background(), "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ulid")
	})
}

func TestUserRepository_GetByExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := testUser(t)
	mock.ExpectQuery(`FROM users WHERE external_id`).
		WithArgs(want.ExternalID).
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow(want.ID.String(), want.ExternalID, want.Username, want.Email, want.PasswordHash, want.CreatedAt))
	missing := uuid.New()
	mock.ExpectQuery(`FROM users WHERE external_id`).
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)

	repo := postgres.NewUserRepository(mock)

	got, err := repo.GetByExternalID(context.Background(), want.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, want.ExternalID, got.ExternalID)

	_, err = repo.GetByExternalID(context.Background(), missing)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := ulid.Make()
	mock.ExpectQuery(`FROM users WHERE id`).
		WithArgs(id.String()).
		WillReturnError(pgx.ErrNoRows)

	_, err = postgres.NewUserRepository(mock).GetByID(context.Background(), id)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
