// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/auth/postgres"
	"github.com/petiverso/petiverso/pkg/errutil"
)

func TestTransactor_InTransaction(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("commits and routes repository calls through the transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		session, err := auth.NewSession(ulid.Make(), "hash", now, now.Add(time.Hour))
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		repo := postgres.NewSessionRepository(mock)
		err = postgres.NewTransactor(mock).InTransaction(context.Background(), func(ctx context.Context) error {
			return repo.Create(ctx, session)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = postgres.NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = postgres.NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
				panic("kaboom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		called := false
		err = postgres.NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err = postgres.NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
			return nil
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
	})
}
