// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package web

import (
	"context"

	"github.com/petiverso/petiverso/internal/auth"
)

type principalKey struct{}

type sessionKey struct{}

// WithPrincipal returns a context carrying a validated principal and its session.
func WithPrincipal(ctx context.Context, p *auth.Principal, s *auth.Session) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return context.WithValue(ctx, sessionKey{}, s)
}

// PrincipalFromContext returns the principal attached by the session
// middleware, or nil for an unauthenticated request.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// SessionFromContext returns the validated session, or nil.
func SessionFromContext(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}
