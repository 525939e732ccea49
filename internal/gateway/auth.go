// Copyright 2026 The Actor Engine Authors
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

package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminTokenHeader is where the serverless pool's outbound SSE requests
// (internal/serverless) carry their signed admin token, alongside the
// X-Rivet-* identification headers spec.md §4.7 describes.
const AdminTokenHeader = "Authorization"

// AdminClaims is the JWT payload an admin token carries: which namespace
// it authorizes acting on behalf of.
type AdminClaims struct {
	jwt.RegisteredClaims
	NamespaceID string `json:"namespace_id"`
}

// AdminAuthenticator issues and verifies the signed admin bearer tokens the
// gateway accepts from the serverless pool's outbound calls, mirroring the
// teacher's BearerAuthenticator but with a signed, namespace-scoped claim
// set rather than a single shared secret compared in constant time.
type AdminAuthenticator struct {
	secret []byte
}

// NewAdminAuthenticator constructs an authenticator signing/verifying with
// HMAC-SHA256 over secret.
func NewAdminAuthenticator(secret []byte) *AdminAuthenticator {
	return &AdminAuthenticator{secret: secret}
}

// IssueToken mints an admin token scoped to namespaceID, valid for ttl.
func (a *AdminAuthenticator) IssueToken(namespaceID string, ttl time.Duration) (string, error) {
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		NamespaceID: namespaceID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("gateway: sign admin token: %w", err)
	}
	return signed, nil
}

// Authenticate extracts and verifies the Bearer admin token from r,
// returning the namespace it's scoped to.
func (a *AdminAuthenticator) Authenticate(r *http.Request) (namespaceID string, err error) {
	raw := r.Header.Get(AdminTokenHeader)
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("gateway: missing or malformed Authorization header")
	}
	tokenStr := strings.TrimSpace(raw[len(prefix):])
	if tokenStr == "" {
		return "", fmt.Errorf("gateway: empty admin token")
	}

	var claims AdminClaims
	_, err = jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("gateway: invalid admin token: %w", err)
	}
	if claims.NamespaceID == "" {
		return "", fmt.Errorf("gateway: admin token missing namespace claim")
	}
	return claims.NamespaceID, nil
}
