// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Errors surfaced by Service and Validator. Callers match them with errors.Is;
// oops wrapping preserves the chain.
var (
	// ErrDuplicateIdentity is returned when a username or email is already registered.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrInvalidCredentials is returned for an unknown username and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrSessionNotFound is returned when a session token does not resolve to a
	// live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStorageUnavailable marks any failure of the backing store. It maps to a
	// server-side failure, never to a client error.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAuditWriteFailed is reported when a login attempt could not be persisted
	// after retries. It is logged and never returned from Authenticate.
	ErrAuditWriteFailed = errors.New("audit write failed")
)

// Identity fields guarded by a uniqueness constraint.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// DuplicateIdentityError names the identity field that collided on registration.
type DuplicateIdentityError struct {
	Field string
}

func (e *DuplicateIdentityError) Error() string {
	return e.Field + " is already in use"
}

// Is reports true for ErrDuplicateIdentity.
func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// unavailable tags a store failure with ErrStorageUnavailable while keeping the cause.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
