// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/petiverso/petiverso/pkg/errutil"
)

// LoginAttempt is an immutable audit record of one authentication call.
type LoginAttempt struct {
	ID             ulid.ULID  `json:"id"`
	UserExternalID *uuid.UUID `json:"user_id,omitempty"` // nil when the username did not resolve
	Username       string     `json:"username"`
	Success        bool       `json:"success"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	AttemptedAt    time.Time  `json:"attempted_at"`
}

// NewLoginAttempt creates a LoginAttempt stamped at now in UTC.
func NewLoginAttempt(user *User, creds Credentials, success bool, now time.Time) *LoginAttempt {
	attempt := &LoginAttempt{
		ID:          ulid.Make(),
		Username:    creds.Username,
		Success:     success,
		RemoteAddr:  creds.RemoteAddr,
		UserAgent:   creds.UserAgent,
		AttemptedAt: now.UTC(),
	}
	if user != nil {
		id := user.ExternalID
		attempt.UserExternalID = &id
	}
	return attempt
}

// AttemptRepository is the append-only login attempt log.
type AttemptRepository interface {
	// Append stores a login attempt.
	Append(ctx context.Context, attempt *LoginAttempt) error
}

// Default retry policy for attempt writes.
const (
	DefaultAuditRetries   = 3
	DefaultAuditRetryBase = 25 * time.Millisecond
	DefaultAuditRetryCap  = 250 * time.Millisecond
)

// AttemptRecorder writes login attempts with local retry. Exhausted writes
// are logged and, when a spool path is set, appended to a JSON-lines file.
type AttemptRecorder struct {
	repo      AttemptRepository
	logger    *slog.Logger
	metrics   *Metrics
	retries   uint64
	retryBase time.Duration
	retryCap  time.Duration
	spoolPath string
	spoolMu   sync.Mutex
	spoolFile *os.File
}

// RecorderOption configures an AttemptRecorder.
type RecorderOption func(*AttemptRecorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *AttemptRecorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorderMetrics sets the metrics sink.
func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *AttemptRecorder) { r.metrics = m }
}

// WithRetry sets the number of retries after the first write and the
// exponential backoff base and cap.
func WithRetry(retries uint64, base, maxDelay time.Duration) RecorderOption {
	return func(r *AttemptRecorder) {
		r.retries = retries
		if base > 0 {
			r.retryBase = base
		}
		if maxDelay > 0 {
			r.retryCap = maxDelay
		}
	}
}

// WithSpool enables the local spool file for attempts that could not be stored.
func WithSpool(path string) RecorderOption {
	return func(r *AttemptRecorder) { r.spoolPath = path }
}

// NewAttemptRecorder creates an AttemptRecorder writing to repo.
func NewAttemptRecorder(repo AttemptRepository, opts ...RecorderOption) (*AttemptRecorder, error) {
	if repo == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("attempt repository is required")
	}
	r := &AttemptRecorder{
		repo:      repo,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		retries:   DefaultAuditRetries,
		retryBase: DefaultAuditRetryBase,
		retryCap:  DefaultAuditRetryCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record persists the attempt, retrying transient failures. The returned error
// matches ErrAuditWriteFailed when every try failed; callers authenticating a
// user must not treat it as a login failure.
func (r *AttemptRecorder) Record(ctx context.Context, attempt *LoginAttempt) error {
	backoff := retry.WithMaxRetries(r.retries,
		retry.WithCappedDuration(r.retryCap, retry.NewExponential(r.retryBase)))

	tries := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++
		if err := r.repo.Append(ctx, attempt); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	r.metrics.auditFailure()
	failure := oops.Code("AUDIT_WRITE_FAILED").
		With("attempt_id", attempt.ID.String()).
		With("username", attempt.Username).
		With("success", attempt.Success).
		With("tries", tries).
		Wrap(errors.Join(ErrAuditWriteFailed, err))
	errutil.LogErrorContext(ctx, r.logger, "login attempt not stored", failure)

	if r.spoolPath != "" {
		if spoolErr := r.spool(attempt); spoolErr != nil {
			errutil.LogErrorContext(ctx, r.logger, "login attempt spool failed",
				oops.Code("AUDIT_SPOOL_FAILED").With("path", r.spoolPath).Wrap(spoolErr))
		} else {
			r.metrics.auditSpooled()
		}
	}

	return failure
}

// spool appends the attempt as one JSON line to the spool file.
func (r *AttemptRecorder) spool(attempt *LoginAttempt) error {
	r.spoolMu.Lock()
	defer r.spoolMu.Unlock()

	if r.spoolFile == nil {
		file, err := os.OpenFile(r.spoolPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", r.spoolPath).Wrap(err)
		}
		r.spoolFile = file
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return oops.With("operation", "marshal attempt").Wrap(err)
	}
	data = append(data, '\n')
	if _, err := r.spoolFile.Write(data); err != nil {
		return oops.With("path", r.spoolPath).Wrap(err)
	}
	return nil
}

// Close releases the spool file, if open.
func (r *AttemptRecorder) Close() error {
	r.spoolMu.Lock()
	defer r.spoolMu.Unlock()

	if r.spoolFile == nil {
		return nil
	}
	err := r.spoolFile.Close()
	r.spoolFile = nil
	if err != nil {
		return oops.Code("AUDIT_SPOOL_CLOSE_FAILED").With("path", r.spoolPath).Wrap(err)
	}
	return nil
}
