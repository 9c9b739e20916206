// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/pkg/errutil"
)

// validateSession runs the renewal decision for every request that carries a
// principal cookie. Renewed sessions get a fresh cookie, rejected ones have
// theirs cleared and continue unauthenticated.
func (h *Handler) validateSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := h.codec.Read(r)
		if principal == nil {
			if _, err := r.Cookie(h.codec.Name()); err == nil {
				// Present but unreadable: forged, tampered or signed by a retired key.
				h.codec.Clear(w)
			}
			next.ServeHTTP(w, r)
			return
		}

		decision, err := h.validator.ValidateAndMaybeRenew(r.Context(), principal, h.now())
		if err != nil {
			errutil.LogErrorContext(r.Context(), h.logger, "session validation failed", err)
			writeMessage(w, http.StatusServiceUnavailable, msgUnavailable)
			return
		}

		switch decision.Outcome {
		case auth.OutcomeRenewed:
			if err := h.codec.Write(w, *principal, decision.ExpiresAt); err != nil {
				errutil.LogErrorContext(r.Context(), h.logger, "failed to reissue session cookie", err)
			}
		case auth.OutcomeRejected:
			h.codec.Clear(w)
		}

		if decision.Authenticated() {
			r = r.WithContext(WithPrincipal(r.Context(), principal, decision.Session))
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth answers 401 unless the session middleware attached a principal.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs and measures each request by its route pattern.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		h.metrics.Observe(route, status, elapsed)
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
