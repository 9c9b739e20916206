// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petiverso/petiverso/pkg/errutil"
)

var tracer = otel.Tracer("petiverso/auth")

// dummyPassword is hashed once to give unknown usernames a real hash to verify
// against, keeping both failure branches on the same code path.
//
//nolint:gosec // G101: not a credential.
const dummyPassword = "petiverso-timing-equalizer"

// Transactor runs fn inside one atomic unit against the store. Repositories
// called with the ctx passed to fn participate in it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTransaction struct{}

func (noTransaction) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RegisterRequest carries registration input. Shape validation is the caller's job.
type RegisterRequest struct {
	Username string
	Password string
	Email    string
}

// Credentials carries login input plus informational client metadata.
type Credentials struct {
	Username   string
	Password   string
	RemoteAddr string
	UserAgent  string
}

// AuthResult is returned by a successful Authenticate.
type AuthResult struct {
	UserID       uuid.UUID
	Username     string
	SessionToken string
	ExpiresAt    time.Time
}

// Service provides authentication operations.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	attempts *AttemptRecorder
	hasher   PasswordHasher
	tx       Transactor
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionTTL sets the lifetime of newly issued sessions.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTransactor sets the transaction boundary used for the login success path.
func WithTransactor(tx Transactor) ServiceOption {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new Service.
func NewService(users UserRepository, sessions SessionRepository, attempts *AttemptRecorder, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("sessions repository is required")
	}
	if attempts == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("attempt recorder is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}

	s := &Service{
		users:    users,
		sessions: sessions,
		attempts: attempts,
		hasher:   hasher,
		tx:       noTransaction{},
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user and returns its external id. Uniqueness of username
// and email is decided by the store at insert time.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (id uuid.UUID, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { endSpan(span, err) }()

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.metrics.registration("error")
		return uuid.Nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(req.Username, req.Email, hash, s.now())
	if err != nil {
		s.metrics.registration("error")
		return uuid.Nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "build user").
			Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			s.metrics.registration("duplicate")
			var dup *DuplicateIdentityError
			field := ""
			if errors.As(err, &dup) {
				field = dup.Field
			}
			return uuid.Nil, oops.Code("AUTH_DUPLICATE_IDENTITY").
				With("field", field).
				Wrap(err)
		}
		s.metrics.registration("error")
		return uuid.Nil, oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "insert user").
			Wrap(unavailable(err))
	}

	s.metrics.registration("success")
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ExternalID.String())
	return user.ExternalID, nil
}

// Authenticate verifies credentials and issues a session. Exactly one login
// attempt is recorded per call, whatever the outcome.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.authenticate")
	defer func() { endSpan(span, err) }()

	now := s.now()

	user, lookupErr := s.users.GetByUsername(ctx, creds.Username)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			s.recordFailure(ctx, nil, creds, now)
			return nil, oops.Code("AUTH_STORAGE_UNAVAILABLE").
				With("operation", "get user by username").
				Wrap(unavailable(lookupErr))
		}
		user = nil
	}

	targetHash := s.dummy()
	if user != nil {
		targetHash = user.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(creds.Password, targetHash)
	if verifyErr != nil {
		if user != nil {
			errutil.LogErrorContext(ctx, s.logger, "stored password hash unreadable",
				oops.Code("AUTH_INVALID_HASH").With("user_id", user.ExternalID.String()).Wrap(verifyErr))
		}
		valid = false
	}

	if user == nil || !valid {
		s.recordFailure(ctx, user, creds, now)
		span.SetAttributes(attribute.String("auth.outcome", "invalid_credentials"))
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		s.recordFailure(ctx, user, creds, now)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(user.ID, tokenHash, now, now.Add(s.ttl))
	if err != nil {
		s.recordFailure(ctx, user, creds, now)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	txErr := s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessions.Create(txCtx, session); err != nil {
			return err
		}
		// Audit failures are absorbed by the recorder and never abort the transaction.
		_ = s.attempts.Record(txCtx, NewLoginAttempt(user, creds, true, now)) //nolint:errcheck // best effort
		return nil
	})
	if txErr != nil {
		s.recordFailure(ctx, user, creds, now)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, oops.Code("AUTH_LOGIN_CANCELED").Wrap(ctxErr)
		}
		return nil, oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "persist session").
			Wrap(unavailable(txErr))
	}

	s.metrics.attempt("success")
	span.SetAttributes(attribute.String("auth.outcome", "success"))
	s.logger.InfoContext(ctx, "user authenticated",
		"user_id", user.ExternalID.String(),
		"session_id", session.ID.String(),
		"expires_at", session.ExpiresAt,
	)

	return &AuthResult{
		UserID:       user.ExternalID,
		Username:     user.Username,
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Logout deletes the session identified by token. A token without a live
// session, including one already logged out, returns ErrSessionNotFound.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}

	if err := s.sessions.Delete(ctx, HashSessionToken(token)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
		}
		return oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "delete session").
			Wrap(unavailable(err))
	}
	return nil
}

// FindUserByID returns the public summary of a user, or (nil, nil) when no user
// has the given external id.
func (s *Service) FindUserByID(ctx context.Context, id uuid.UUID) (summary *UserSummary, err error) {
	ctx, span := tracer.Start(ctx, "auth.find_user")
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetByExternalID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "get user by external id").
			With("user_id", id.String()).
			Wrap(unavailable(err))
	}
	return user.Summary(), nil
}

// recordFailure records a failed attempt. The write is detached from ctx
// cancellation so a disconnecting client cannot skip the audit record.
func (s *Service) recordFailure(ctx context.Context, user *User, creds Credentials, now time.Time) {
	s.metrics.attempt("failure")
	_ = s.attempts.Record(context.WithoutCancel(ctx), NewLoginAttempt(user, creds, false, now)) //nolint:errcheck // best effort
}

// dummy returns a hash produced by the configured hasher, computed on first use.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
