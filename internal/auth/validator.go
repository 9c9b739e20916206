// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/petiverso/petiverso/pkg/errutil"
)

// Principal is the verified identity a transport attaches to a request.
type Principal struct {
	SessionToken string `json:"sessionToken"`
	Username     string `json:"username"`
}

// Outcome is the terminal state of one validation.
type Outcome int

// Validation outcomes.
const (
	OutcomeNoToken Outcome = iota
	OutcomeValid
	OutcomeRenewed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoToken:
		return "no_token"
	case OutcomeValid:
		return "valid"
	case OutcomeRenewed:
		return "renewed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decision is the result of ValidateAndMaybeRenew.
type Decision struct {
	Outcome Outcome
	// Session is set for OutcomeValid and OutcomeRenewed.
	Session *Session
	// ExpiresAt is the effective session expiry for OutcomeValid and OutcomeRenewed.
	ExpiresAt time.Time
}

// Authenticated reports whether the request may proceed as the principal.
func (d Decision) Authenticated() bool {
	return d.Outcome == OutcomeValid || d.Outcome == OutcomeRenewed
}

// Validator checks sessions on every authenticated request and extends them
// once less than the renewal threshold remains.
type Validator struct {
	sessions  SessionRepository
	ttl       time.Duration
	threshold time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorTTL sets the lifetime a renewal grants. It also resets the
// renewal threshold to half the TTL unless WithRenewalThreshold follows.
func WithValidatorTTL(ttl time.Duration) ValidatorOption {
	return func(v *Validator) {
		if ttl > 0 {
			v.ttl = ttl
			v.threshold = ttl / 2
		}
	}
}

// WithRenewalThreshold sets the remaining lifetime at or below which a session is renewed.
func WithRenewalThreshold(threshold time.Duration) ValidatorOption {
	return func(v *Validator) {
		if threshold > 0 {
			v.threshold = threshold
		}
	}
}

// WithValidatorLogger sets the logger.
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithValidatorMetrics sets the metrics sink.
func WithValidatorMetrics(m *Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a Validator. Defaults: TTL 8h, threshold TTL/2.
func NewValidator(sessions SessionRepository, opts ...ValidatorOption) (*Validator, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("sessions repository is required")
	}
	v := &Validator{
		sessions:  sessions,
		ttl:       DefaultSessionTTL,
		threshold: DefaultSessionTTL / 2,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.threshold >= v.ttl {
		return nil, oops.Code("AUTH_INVALID_THRESHOLD").
			With("ttl", v.ttl.String()).
			With("threshold", v.threshold.String()).
			Errorf("renewal threshold must be shorter than the session TTL")
	}
	return v, nil
}

// TTL returns the lifetime granted on renewal.
func (v *Validator) TTL() time.Duration { return v.ttl }

// Threshold returns the renewal threshold.
func (v *Validator) Threshold() time.Duration { return v.threshold }

// ValidateAndMaybeRenew decides whether the principal's session is usable at now.
//
// No token passes through unauthenticated. A missing or expired session is
// rejected, and an expired row is deleted. A session with more than the
// threshold left is valid with no write. Otherwise expiry is extended to
// now+TTL. Concurrent renewals of one session are last-write-wins; the store
// never moves expiry backward.
//
// Storage failures return an error matching ErrStorageUnavailable and no decision.
func (v *Validator) ValidateAndMaybeRenew(ctx context.Context, principal *Principal, now time.Time) (decision Decision, err error) {
	ctx, span := tracer.Start(ctx, "auth.validate_session")
	defer func() {
		span.SetAttributes(attribute.String("auth.session.outcome", decision.Outcome.String()))
		endSpan(span, err)
	}()

	if principal == nil || principal.SessionToken == "" {
		v.metrics.validation(OutcomeNoToken)
		return Decision{Outcome: OutcomeNoToken}, nil
	}

	now = now.UTC()
	tokenHash := HashSessionToken(principal.SessionToken)

	session, err := v.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.reject(ctx, principal, "unknown session"), nil
		}
		return Decision{}, oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "get session by token hash").
			Wrap(unavailable(err))
	}

	if session.IsExpiredAt(now) {
		if delErr := v.sessions.Delete(ctx, tokenHash); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			errutil.LogErrorContext(ctx, v.logger, "failed to delete expired session",
				oops.Code("SESSION_DELETE_FAILED").With("session_id", session.ID.String()).Wrap(delErr))
		}
		return v.reject(ctx, principal, "session expired"), nil
	}

	if session.Remaining(now) > v.threshold {
		v.metrics.validation(OutcomeValid)
		return Decision{Outcome: OutcomeValid, Session: session, ExpiresAt: session.ExpiresAt}, nil
	}

	expiresAt, err := v.sessions.UpdateExpiry(ctx, tokenHash, now.Add(v.ttl))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.reject(ctx, principal, "session removed during renewal"), nil
		}
		return Decision{}, oops.Code("AUTH_STORAGE_UNAVAILABLE").
			With("operation", "update session expiry").
			With("session_id", session.ID.String()).
			Wrap(unavailable(err))
	}

	renewed := *session
	renewed.ExpiresAt = expiresAt.UTC()

	v.metrics.validation(OutcomeRenewed)
	v.logger.DebugContext(ctx, "session renewed",
		"session_id", session.ID.String(),
		"expires_at", renewed.ExpiresAt,
	)
	return Decision{Outcome: OutcomeRenewed, Session: &renewed, ExpiresAt: renewed.ExpiresAt}, nil
}

func (v *Validator) reject(ctx context.Context, principal *Principal, reason string) Decision {
	v.metrics.validation(OutcomeRejected)
	v.logger.InfoContext(ctx, "session rejected",
		"username", principal.Username,
		"reason", reason,
	)
	return Decision{Outcome: OutcomeRejected}
}
