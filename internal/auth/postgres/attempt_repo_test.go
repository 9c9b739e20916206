// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/auth/postgres"
)

func TestAttemptRepository_Append(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("known user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		attempt := auth.NewLoginAttempt(user, auth.Credentials{Username: "alice", RemoteAddr: "10.0.0.1", UserAgent: "curl"}, true, now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO login_attempts`).
			WithArgs(attempt.ID.String(), &user.ExternalID, "alice", true, "10.0.0.1", "curl", now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewAttemptRepository(mock).Append(context.Background(), attempt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user stores null reference", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		attempt := auth.NewLoginAttempt(nil, auth.Credentials{Username: "ghost"}, false, now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO login_attempts`).
			WithArgs(attempt.ID.String(), pgxmock.AnyArg(), "ghost", false, "", "", now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewAttemptRepository(mock).Append(context.Background(), attempt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		attempt := auth.NewLoginAttempt(nil, auth.Credentials{Username: "ghost"}, false, now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO login_attempts`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = postgres.NewAttemptRepository(mock).Append(context.Background(), attempt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
