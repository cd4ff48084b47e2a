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

package oidc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/oauth2"
)

type stubUsers struct {
	users map[string]*UserClaims
}

func (s *stubUsers) BySubject(_ context.Context, subject string) (*UserClaims, error) {
	if u, ok := s.users[subject]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	keys, err := NewKeyManager(context.Background(), AlgES256, time.Hour, time.Minute, nil)
	require.NoError(t, err)
	users := &stubUsers{users: map[string]*UserClaims{
		"user-1": {
			Subject:       "user-1",
			Name:          "Ada Lovelace",
			Picture:       "https://img.example/ada.png",
			Email:         "ada@example.com",
			EmailVerified: true,
		},
	}}
	return NewService("https://auth.example.com", 10*time.Minute, keys, users)
}

func parseClaims(t *testing.T, s *Service, raw string) (jwt.MapClaims, *jwt.Token) {
	t.Helper()
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, s.Keys().Keyfunc)
	require.NoError(t, err)
	require.True(t, token.Valid)
	return claims, token
}

func TestIssueIDToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	authTime := time.Now().Add(-2 * time.Minute).Truncate(time.Second)

	raw, err := s.IssueIDToken(ctx, oauth2.IDTokenInput{
		Subject:     "user-1",
		ClientID:    "client-abc",
		Nonce:       "n-0S6_WzA2Mj",
		Scope:       "openid profile email",
		AccessToken: "the-access-token",
		AuthTime:    authTime,
	})
	require.NoError(t, err)

	claims, token := parseClaims(t, s, raw)

	assert.Equal(t, "https://auth.example.com", claims["iss"])
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "client-abc", claims["aud"])
	assert.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])
	assert.EqualValues(t, authTime.Unix(), claims["auth_time"])
	assert.Equal(t, atHash("the-access-token"), claims["at_hash"])

	// Scope-gated claims.
	assert.Equal(t, "Ada Lovelace", claims["name"])
	assert.Equal(t, "https://img.example/ada.png", claims["picture"])
	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])

	active, err := s.Keys().Active()
	require.NoError(t, err)
	assert.Equal(t, active.KID, token.Header["kid"])
}

func TestIssueIDToken_ScopeGatesClaims(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	raw, err := s.IssueIDToken(ctx, oauth2.IDTokenInput{
		Subject:  "user-1",
		ClientID: "client-abc",
		Scope:    "openid",
	})
	require.NoError(t, err)

	claims, _ := parseClaims(t, s, raw)
	assert.NotContains(t, claims, "name")
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "nonce", "nonce is only echoed when requested")
	assert.NotContains(t, claims, "auth_time")
	assert.NotContains(t, claims, "at_hash")
}

func TestIssueIDToken_UnknownSubject(t *testing.T) {
	s := newTestService(t)

	raw, err := s.IssueIDToken(context.Background(), oauth2.IDTokenInput{
		Subject:  "ghost",
		ClientID: "client-abc",
		Scope:    "openid profile email",
	})
	require.NoError(t, err)

	claims, _ := parseClaims(t, s, raw)
	assert.Equal(t, "ghost", claims["sub"])
	assert.NotContains(t, claims, "name")
	assert.NotContains(t, claims, "email")
}

func TestIssueIDToken_SurvivesRotation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	raw, err := s.IssueIDToken(ctx, oauth2.IDTokenInput{Subject: "user-1", ClientID: "c"})
	require.NoError(t, err)

	require.NoError(t, s.Keys().Rotate(ctx))

	// Tokens signed by the retired key verify through its overlap window.
	parseClaims(t, s, raw)
}

func TestSignAccessToken(t *testing.T) {
	s := newTestService(t)
	now := time.Now().Truncate(time.Second)

	raw, err := s.SignAccessToken(context.Background(), oauth2.AccessTokenClaims{
		JTI:       "jti-1",
		Subject:   "user-1",
		ClientID:  "client-abc",
		Scope:     "openid api:read",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	claims, token := parseClaims(t, s, raw)
	assert.Equal(t, "at+jwt", token.Header["typ"])
	assert.Equal(t, "jti-1", claims["jti"])
	assert.Equal(t, "client-abc", claims["client_id"])
	assert.Equal(t, "openid api:read", claims["scope"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), claims["exp"])
}

func TestUserInfo(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	t.Run("claims follow scope", func(t *testing.T) {
		claims, err := s.UserInfo(ctx, "user-1", "openid email")
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims["sub"])
		assert.Equal(t, "ada@example.com", claims["email"])
		assert.NotContains(t, claims, "name")
	})

	t.Run("unknown subject gets sub only", func(t *testing.T) {
		claims, err := s.UserInfo(ctx, "ghost", "openid profile email")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"sub": "ghost"}, claims)
	})
}

func TestDiscovery(t *testing.T) {
	s := newTestService(t)
	meta := s.Discovery()

	assert.Equal(t, "https://auth.example.com", meta.Issuer)
	assert.Equal(t, "https://auth.example.com/oauth/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth/token", meta.TokenEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth/introspect", meta.IntrospectionEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth/revoke", meta.RevocationEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth/userinfo", meta.UserInfoEndpoint)
	assert.Equal(t, "https://auth.example.com/.well-known/jwks.json", meta.JWKSURI)
	assert.Equal(t, []string{"code"}, meta.ResponseTypesSupported)
	assert.Contains(t, meta.GrantTypesSupported, "authorization_code")
	assert.Contains(t, meta.CodeChallengeMethodsSupported, "S256")
	assert.Equal(t, []string{AlgES256}, meta.IDTokenSigningAlgValuesSupported)
}

func TestAtHash(t *testing.T) {
	// at_hash is base64url of the left 16 bytes of SHA-256.
	h := atHash("token")
	assert.Len(t, h, 22)
	assert.Equal(t, h, atHash("token"))
	assert.NotEqual(t, h, atHash("other"))
}
