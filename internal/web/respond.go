// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/pkg/errutil"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Messages returned to clients. Credential failures share one message.
const (
	msgInvalidCredentials = "invalid username or password"
	msgSessionNotFound    = "session not found"
	msgUnavailable        = "service temporarily unavailable"
	msgInternal           = "internal error"
	msgUnauthenticated    = "authentication required"
)

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Success: status < http.StatusBadRequest, Message: msg})
}

// writeError maps an auth error to a status code. Duplicate identities,
// credential failures and unknown sessions are client errors. Storage outages
// are 503 and anything else is 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var dup *auth.DuplicateIdentityError
	switch {
	case errors.As(err, &dup):
		writeMessage(w, http.StatusConflict, duplicateMessage(dup.Field))
	case errors.Is(err, auth.ErrDuplicateIdentity):
		writeMessage(w, http.StatusConflict, duplicateMessage(""))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, auth.ErrSessionNotFound):
		writeMessage(w, http.StatusBadRequest, msgSessionNotFound)
	case errors.Is(err, auth.ErrStorageUnavailable):
		errutil.LogErrorContext(r.Context(), logger, "storage unavailable", err)
		writeMessage(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		errutil.LogErrorContext(r.Context(), logger, "request failed", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
	}
}

func duplicateMessage(field string) string {
	switch field {
	case auth.FieldUsername:
		return "username is already taken"
	case auth.FieldEmail:
		return "email is already registered"
	default:
		return "username or email is already in use"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}
