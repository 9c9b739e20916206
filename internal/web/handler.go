// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package web exposes the auth service over HTTP with a signed principal cookie.
package web

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/observability"
)

// Input limits for registration.
const (
	MinUsernameLength = 5
	MinPasswordLength = 8
)

// AuthService is the subset of *auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (uuid.UUID, error)
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.AuthResult, error)
	Logout(ctx context.Context, token string) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*auth.UserSummary, error)
}

// SessionValidator decides whether a principal's session is still usable.
type SessionValidator interface {
	ValidateAndMaybeRenew(ctx context.Context, principal *auth.Principal, now time.Time) (auth.Decision, error)
}

// Handler serves the auth API.
type Handler struct {
	svc       AuthService
	validator SessionValidator
	codec     *CookieCodec
	logger    *slog.Logger
	metrics   *observability.HTTPMetrics
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records per-route request metrics.
func WithMetrics(m *observability.HTTPMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides the time used for session validation.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(svc AuthService, validator SessionValidator, codec *CookieCodec, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("auth service is required")
	}
	if validator == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("session validator is required")
	}
	if codec == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("cookie codec is required")
	}
	h := &Handler{
		svc:       svc,
		validator: validator,
		codec:     codec,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(h.validateSession)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Get("/authenticated", h.authenticated)
	})
	r.With(requireAuth).Get("/api/users/{id}", h.findUser)
	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type registerResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	UserID  uuid.UUID `json:"userId"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.Username) || blank(req.Password) || blank(req.Email) {
		writeMessage(w, http.StatusBadRequest, "username, password and email are required")
		return
	}
	if utf8.RuneCountInString(req.Username) < MinUsernameLength || utf8.RuneCountInString(req.Password) < MinPasswordLength {
		writeMessage(w, http.StatusBadRequest, "username needs at least 5 characters and password at least 8")
		return
	}

	id, err := h.svc.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Success: true, Message: "user registered", UserID: id})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.Username) || blank(req.Password) {
		writeMessage(w, http.StatusBadRequest, "username and password are required")
		return
	}

	res, err := h.svc.Authenticate(r.Context(), auth.Credentials{
		Username:   req.Username,
		Password:   req.Password,
		RemoteAddr: clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.codec.Write(w, auth.Principal{SessionToken: res.SessionToken, Username: res.Username}, res.ExpiresAt); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "logged in")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		writeMessage(w, http.StatusBadRequest, msgSessionNotFound)
		return
	}

	if err := h.svc.Logout(r.Context(), principal.SessionToken); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.codec.Clear(w)
	writeMessage(w, http.StatusOK, "logged out")
}

type authenticatedResponse struct {
	Success       bool    `json:"success"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username"`
}

func (h *Handler) authenticated(w http.ResponseWriter, r *http.Request) {
	resp := authenticatedResponse{Success: true}
	if p := PrincipalFromContext(r.Context()); p != nil {
		resp.Authenticated = true
		resp.Username = &p.Username
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) findUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}

	summary, err := h.svc.FindUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if summary == nil {
		writeMessage(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// clientIP strips the port from r.RemoteAddr, which RealIP may already have
// replaced with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
