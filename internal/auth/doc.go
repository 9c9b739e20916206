// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package auth provides cookie-session authentication for the Petiverso API.
//
// # Domain Types
//
// User, Session and LoginAttempt are persisted through the repository
// interfaces declared here. Sessions and attempts should be built with
// NewSession and NewLoginAttempt so that identifiers and UTC timestamps are
// always populated.
//
// # Services
//
//   - Service - register, authenticate, logout, user lookup
//   - Validator - per-request session validation with sliding renewal
//   - AttemptRecorder - best-effort login attempt auditing with local retry
//
// Constructors reject nil dependencies.
package auth
