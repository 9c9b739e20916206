// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package memory implements the auth repositories in process memory, for
// tests and single-process development. Data is lost on exit.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/petiverso/petiverso/internal/auth"
)

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]auth.User
	byExternal map[uuid.UUID]ulid.ULID
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[ulid.ULID]auth.User),
		byExternal: make(map[uuid.UUID]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
	}
}

// Create stores a copy of user. Username and email are unique.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[user.Username]; ok {
		return oops.Code("USER_DUPLICATE").With("username", user.Username).
			Wrap(&auth.DuplicateIdentityError{Field: auth.FieldUsername})
	}
	if _, ok := r.byEmail[user.Email]; ok {
		return oops.Code("USER_DUPLICATE").With("username", user.Username).
			Wrap(&auth.DuplicateIdentityError{Field: auth.FieldEmail})
	}
	if _, ok := r.byID[user.ID]; ok {
		return oops.Code("USER_DUPLICATE").With("id", user.ID.String()).Wrap(auth.ErrDuplicateIdentity)
	}
	if _, ok := r.byExternal[user.ExternalID]; ok {
		return oops.Code("USER_DUPLICATE").With("external_id", user.ExternalID.String()).Wrap(auth.ErrDuplicateIdentity)
	}

	r.byID[user.ID] = *user
	r.byExternal[user.ExternalID] = user.ID
	r.byUsername[user.Username] = user.ID
	r.byEmail[user.Email] = user.ID
	return nil
}

// GetByID retrieves a user by internal key.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id, "id", id.String())
}

// GetByExternalID retrieves a user by external identifier.
func (r *UserRepository) GetByExternalID(_ context.Context, externalID uuid.UUID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("external_id", externalID.String()).Wrap(auth.ErrNotFound)
	}
	return r.get(id, "external_id", externalID.String())
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return r.get(id, "username", username)
}

// get must be called with mu held.
func (r *UserRepository) get(id ulid.ULID, key, value string) (*auth.User, error) {
	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	return &user, nil
}

// SessionRepository implements auth.SessionRepository.
type SessionRepository struct {
	mu     sync.Mutex
	byHash map[string]auth.Session
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{byHash: make(map[string]auth.Session)}
}

// Create stores a copy of session. Token hashes are unique.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[session.TokenHash]; ok {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Errorf("token hash already in use")
	}
	r.byHash[session.TokenHash] = *session
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &session, nil
}

// UpdateExpiry moves expiry forward to expiresAt, keeping a later stored value.
func (r *SessionRepository) UpdateExpiry(_ context.Context, tokenHash string, expiresAt time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byHash[tokenHash]
	if !ok {
		return time.Time{}, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if expiresAt.After(session.ExpiresAt) {
		session.ExpiresAt = expiresAt.UTC()
		r.byHash[tokenHash] = session
	}
	return session.ExpiresAt, nil
}

// Delete removes a session by token hash.
func (r *SessionRepository) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[tokenHash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.byHash, tokenHash)
	return nil
}

// DeleteExpired removes every session expired at now.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, session := range r.byHash {
		if session.IsExpiredAt(now) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}

// AttemptRepository implements auth.AttemptRepository.
type AttemptRepository struct {
	mu       sync.Mutex
	attempts []auth.LoginAttempt
}

// NewAttemptRepository creates an empty AttemptRepository.
func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{}
}

// Append stores a copy of attempt.
func (r *AttemptRepository) Append(_ context.Context, attempt *auth.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

// List returns the stored attempts in insertion order.
func (r *AttemptRepository) List() []auth.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.LoginAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

// Compile-time interface checks.
var (
	_ auth.UserRepository    = (*UserRepository)(nil)
	_ auth.SessionRepository = (*SessionRepository)(nil)
	_ auth.AttemptRepository = (*AttemptRepository)(nil)
)
