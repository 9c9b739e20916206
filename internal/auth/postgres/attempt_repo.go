// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/petiverso/petiverso/internal/auth"
)

// AttemptRepository implements auth.AttemptRepository using PostgreSQL.
type AttemptRepository struct {
	pool Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Append inserts a login attempt. The insert runs in its own transaction, or
// in a savepoint when ctx already carries one, so a failed write never aborts
// the surrounding work.
func (r *AttemptRepository) Append(ctx context.Context, attempt *auth.LoginAttempt) error {
	tx, err := conn(ctx, r.pool).Begin(ctx)
	if err != nil {
		return oops.Code("ATTEMPT_BEGIN_FAILED").
			With("operation", "begin attempt insert").
			Wrap(err)
	}

	var userID *uuid.UUID
	if attempt.UserExternalID != nil {
		id := *attempt.UserExternalID
		userID = &id
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO login_attempts (id, user_external_id, username, success, remote_addr, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		attempt.ID.String(),
		userID,
		attempt.Username,
		attempt.Success,
		attempt.RemoteAddr,
		attempt.UserAgent,
		attempt.AttemptedAt,
	); err != nil {
		rollback(ctx, tx)
		return oops.Code("ATTEMPT_APPEND_FAILED").
			With("operation", "insert login attempt").
			With("attempt_id", attempt.ID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("ATTEMPT_COMMIT_FAILED").
			With("attempt_id", attempt.ID.String()).
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.AttemptRepository = (*AttemptRepository)(nil)
