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

package oauth2

import (
	"context"

	"github.com/authgrid/authgrid/internal/audit"
)

// Introspection is the RFC 7662 Section 2.2 response. For an inactive token
// the body is exactly {"active": false} with no other members, so every
// other field is omitempty.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

var inactive = &Introspection{Active: false}

// Introspect implements RFC 7662 for access and refresh tokens. Unknown,
// expired, revoked and replaced tokens are all reported as inactive; the
// endpoint never reveals why a token is dead.
func (s *Service) Introspect(ctx context.Context, token string) *Introspection {
	if token == "" {
		return inactive
	}

	hash := HashToken(token)
	now := s.now()

	if at, err := s.accessTokens.GetByHash(ctx, hash); err == nil {
		if at.IsRevoked || at.IsExpired(now) {
			return inactive
		}
		return &Introspection{
			Active:    true,
			Scope:     at.Scope,
			ClientID:  at.ClientID,
			Subject:   at.Subject,
			TokenType: "Bearer",
			ExpiresAt: at.ExpiresAt.Unix(),
			IssuedAt:  at.IssuedAt.Unix(),
			JTI:       at.ID,
		}
	}

	if rt, err := s.refreshTokens.GetByHash(ctx, hash); err == nil {
		if !rt.Active(now) {
			return inactive
		}
		return &Introspection{
			Active:    true,
			Scope:     rt.Scope,
			ClientID:  rt.ClientID,
			Subject:   rt.Subject,
			TokenType: "refresh_token",
			ExpiresAt: rt.AbsoluteExpiresAt.Unix(),
			IssuedAt:  rt.IssuedAt.Unix(),
			JTI:       rt.ID,
		}
	}

	return inactive
}

// ValidateAccessToken checks a bearer token presented to a protected
// resource (UserInfo). Returns the live token record or ErrTokenNotFound /
// ErrTokenExpired / ErrTokenRevoked.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	at, err := s.accessTokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		return nil, ErrTokenNotFound
	}
	if at.IsRevoked {
		return nil, ErrTokenRevoked
	}
	if at.IsExpired(s.now()) {
		return nil, ErrTokenExpired
	}

	return at, nil
}

// Revoke implements RFC 7009. The operation is idempotent and always
// reports success to the caller: revoking an unknown or already-revoked
// token is indistinguishable from revoking a live one. A token belonging to
// a different client is left untouched (still reported as success).
// Revoking a refresh token tears down its whole rotation chain.
func (s *Service) Revoke(ctx context.Context, client *Client, token string) {
	if token == "" {
		return
	}

	hash := HashToken(token)

	if at, err := s.accessTokens.GetByHash(ctx, hash); err == nil {
		if at.ClientID != client.ClientID {
			return
		}
		if !at.IsRevoked {
			s.accessTokens.Revoke(ctx, hash) //nolint:errcheck
			s.audit(ctx, audit.Event{
				Type:     audit.TypeTokenRevoked,
				Subject:  at.Subject,
				ClientID: client.ClientID,
				Metadata: map[string]any{"kind": "access_token", "jti": at.ID},
			})
		}
		return
	}

	if rt, err := s.refreshTokens.GetByHash(ctx, hash); err == nil {
		if rt.ClientID != client.ClientID {
			return
		}
		if !rt.IsRevoked {
			s.refreshTokens.RevokeChain(ctx, rt.ChainID)    //nolint:errcheck
			s.accessTokens.RevokeByChainID(ctx, rt.ChainID) //nolint:errcheck
			s.audit(ctx, audit.Event{
				Type:     audit.TypeTokenRevoked,
				Subject:  rt.Subject,
				ClientID: client.ClientID,
				Metadata: map[string]any{"kind": "refresh_token", "chain_id": rt.ChainID},
			})
		}
	}
}
