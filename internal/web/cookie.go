// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/petiverso/petiverso/internal/auth"
)

// MinKeyLength is the shortest accepted cookie signing key, in bytes.
const MinKeyLength = 32

// Cookie decoding failures. Callers treat both as "no principal".
var (
	ErrMalformedCookie = errors.New("malformed principal cookie")
	ErrBadSignature    = errors.New("principal cookie signature mismatch")
)

// CookieCodec signs the principal into a cookie value and verifies it back.
// The first key signs. Every key verifies, so keys can be rotated by
// prepending a new one.
type CookieCodec struct {
	name   string
	keys   [][]byte
	secure bool
}

// NewCookieCodec creates a codec for the named cookie.
func NewCookieCodec(name string, keys [][]byte, secure bool) (*CookieCodec, error) {
	if name == "" {
		return nil, oops.Code("WEB_INVALID_COOKIE").Errorf("cookie name is required")
	}
	if len(keys) == 0 {
		return nil, oops.Code("WEB_INVALID_COOKIE").Errorf("at least one signing key is required")
	}
	for i, k := range keys {
		if len(k) < MinKeyLength {
			return nil, oops.Code("WEB_INVALID_COOKIE").
				With("key_index", i).
				With("key_length", len(k)).
				Errorf("signing key must be at least %d bytes", MinKeyLength)
		}
	}
	return &CookieCodec{name: name, keys: keys, secure: secure}, nil
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string { return c.name }

// Encode returns the signed cookie value for p.
func (c *CookieCodec) Encode(p auth.Principal) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", oops.Code("WEB_COOKIE_ENCODE_FAILED").Wrap(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(sign(c.keys[0], payload)), nil
}

// Decode verifies value and returns the principal it carries.
func (c *CookieCodec) Decode(value string) (*auth.Principal, error) {
	encPayload, encSig, ok := strings.Cut(value, ".")
	if !ok {
		return nil, ErrMalformedCookie
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return nil, ErrMalformedCookie
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return nil, ErrMalformedCookie
	}

	verified := false
	for _, k := range c.keys {
		if hmac.Equal(sig, sign(k, payload)) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrBadSignature
	}

	var p auth.Principal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ErrMalformedCookie
	}
	return &p, nil
}

// Read returns the principal carried by r, or nil when the cookie is absent,
// forged or tampered with.
func (c *CookieCodec) Read(r *http.Request) *auth.Principal {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return nil
	}
	p, err := c.Decode(cookie.Value)
	if err != nil {
		return nil
	}
	return p
}

// Write sets the principal cookie, expiring with the session.
func (c *CookieCodec) Write(w http.ResponseWriter, p auth.Principal, expiresAt time.Time) error {
	value, err := c.Encode(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, c.cookie(value, expiresAt.UTC()))
	return nil
}

// Clear expires the principal cookie on the client.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	cookie := c.cookie("", time.Unix(0, 0).UTC())
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

func (c *CookieCodec) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func sign(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}
