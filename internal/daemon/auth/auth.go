// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth authenticates API requests: a static bearer token compared
// in constant time, or a signed JWT whose subject becomes the run creator.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies API credentials.
type Authenticator struct {
	// Token is the static bearer secret; empty disables static-token auth.
	Token string

	// JWTSecret enables HS256 JWT verification; empty disables it.
	JWTSecret string
}

// Enabled reports whether any credential check is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.Token != "" || a.JWTSecret != "")
}

// ExtractBearerToken pulls the token out of the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	// Case-insensitive prefix per RFC 6750.
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", fmt.Errorf("empty Bearer token")
	}
	return token, nil
}

// Authenticate verifies the request and returns the authenticated subject
// ("api" for the static token, the JWT sub claim otherwise).
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if !a.Enabled() {
		return "anonymous", nil
	}

	token, err := ExtractBearerToken(r)
	if err != nil {
		return "", err
	}

	if a.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) == 1 {
		return "api", nil
	}

	if a.JWTSecret != "" {
		subject, err := a.verifyJWT(token)
		if err == nil {
			return subject, nil
		}
	}
	return "", fmt.Errorf("invalid credentials")
}

func (a *Authenticator) verifyJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

// Middleware wraps next with authentication; failures get 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="netrunner"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Header.Set("X-Authenticated-Subject", subject)
		next.ServeHTTP(w, r)
	})
}
