// Copyright 2026 The Authgrid Authors
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

// Package oidc implements the OpenID Connect layer: ID token signing,
// JWT access tokens, discovery metadata, JWKS and UserInfo claims.
package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgrid/authgrid/internal/oauth2"
)

// Service signs tokens and serves the OIDC metadata surface
type Service struct {
	issuer     string
	idTokenTTL time.Duration
	keys       *KeyManager
	users      UserSource

	now func() time.Time
}

// NewService creates the OIDC service. users may be nil, in which case
// ID tokens carry only the mandatory claims.
func NewService(issuer string, idTokenTTL time.Duration, keys *KeyManager, users UserSource) *Service {
	if idTokenTTL <= 0 {
		idTokenTTL = time.Hour
	}
	return &Service{
		issuer:     issuer,
		idTokenTTL: idTokenTTL,
		keys:       keys,
		users:      users,
		now:        time.Now,
	}
}

// Keys exposes the key manager for JWKS publication and verification
func (s *Service) Keys() *KeyManager {
	return s.keys
}

// IssueIDToken implements oauth2.IDTokenIssuer. Claims beyond the mandatory
// set are released per scope; nonce is echoed verbatim when the
// authorization request carried one.
func (s *Service) IssueIDToken(ctx context.Context, in oauth2.IDTokenInput) (string, error) {
	key, err := s.keys.Active()
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": in.Subject,
		"aud": in.ClientID,
		"exp": now.Add(s.idTokenTTL).Unix(),
		"iat": now.Unix(),
	}
	if !in.AuthTime.IsZero() {
		claims["auth_time"] = in.AuthTime.Unix()
	}
	if in.Nonce != "" {
		claims["nonce"] = in.Nonce
	}
	if in.AccessToken != "" {
		claims["at_hash"] = atHash(in.AccessToken)
	}

	if s.users != nil {
		user, err := s.users.BySubject(ctx, in.Subject)
		if err == nil {
			for k, v := range claimsForScope(user, in.Scope) {
				claims[k] = v
			}
		}
	}

	token := jwt.NewWithClaims(s.keys.SigningMethod(), claims)
	token.Header["kid"] = key.KID

	signed, err := token.SignedString(key.Signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}
	return signed, nil
}

// SignAccessToken implements oauth2.AccessTokenSigner for the JWT access
// token profile (RFC 9068 shape).
func (s *Service) SignAccessToken(ctx context.Context, in oauth2.AccessTokenClaims) (string, error) {
	key, err := s.keys.Active()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       in.Subject,
		"aud":       in.ClientID,
		"client_id": in.ClientID,
		"scope":     in.Scope,
		"jti":       in.JTI,
		"iat":       in.IssuedAt.Unix(),
		"exp":       in.ExpiresAt.Unix(),
	}

	token := jwt.NewWithClaims(s.keys.SigningMethod(), claims)
	token.Header["kid"] = key.KID
	token.Header["typ"] = "at+jwt"

	signed, err := token.SignedString(key.Signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// UserInfo returns the claims a bearer token's scope releases for a subject
func (s *Service) UserInfo(ctx context.Context, subject, scope string) (map[string]any, error) {
	claims := map[string]any{"sub": subject}
	if s.users == nil {
		return claims, nil
	}
	user, err := s.users.BySubject(ctx, subject)
	if err != nil {
		// Unknown subjects still get the mandatory sub claim; the token
		// was already validated.
		return claims, nil
	}
	for k, v := range claimsForScope(user, scope) {
		claims[k] = v
	}
	return claims, nil
}

// atHash computes the OIDC at_hash: base64url of the left half of the
// SHA-256 digest of the access token (for RS256/ES256).
func atHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
