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
	"errors"
	"strings"
	"time"
)

// Domain errors (internal)
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client already exists")
	ErrCodeNotFound        = errors.New("authorization code not found")
	ErrCodeAlreadyUsed     = errors.New("authorization code already used")
	ErrTokenNotFound       = errors.New("token not found")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrTokenReplaced       = errors.New("refresh token already replaced")
)

// Grant type identifiers (RFC 6749)
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// Client represents a registered OAuth2 client application
type Client struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	SecretHash    string    `json:"-"`
	Name          string    `json:"client_name"`
	RedirectURIs  []string  `json:"redirect_uris"`
	AllowedScopes []string  `json:"allowed_scopes"`
	AllowedGrants []string  `json:"allowed_grants"`
	Trusted       bool      `json:"trusted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Public reports whether the client is a public client (no secret).
// Public clients are only accepted on PKCE-bound authorization code flows.
func (c *Client) Public() bool {
	return c.SecretHash == ""
}

// ValidateRedirectURI checks the redirect URI against the registered set.
// RFC 6749 Section 3.1.2 requires an exact string match.
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// ValidateScope checks that every requested scope token is allowed.
func (c *Client) ValidateScope(requestedScope string) bool {
	for _, req := range strings.Fields(requestedScope) {
		allowed := false
		for _, s := range c.AllowedScopes {
			if s == req {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// AllowsGrant checks whether the grant type is registered for the client.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.AllowedGrants {
		if g == grantType {
			return true
		}
	}
	return false
}

// AuthorizationCode represents a short-lived single-use authorization code.
// Lifecycle is a two-state machine: fresh -> consumed. Consumption is an
// atomic check-and-set on IsUsed performed by the repository.
type AuthorizationCode struct {
	ID                  string
	Code                string
	ClientID            string
	Subject             string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            time.Time
	MFACompleted        bool
	ExpiresAt           time.Time
	UsedAt              *time.Time
	IsUsed              bool
	CreatedAt           time.Time
}

// IsExpired checks if the authorization code has expired
func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// AccessToken represents an issued access token. The raw token is never
// stored; TokenHash holds its SHA-256 digest. CodeID links the token back to
// the authorization code it descends from (directly or through refresh) so a
// code replay can revoke every descendant. ChainID ties tokens minted during
// refresh rotation to their chain.
type AccessToken struct {
	ID        string // doubles as jti for JWT-form tokens
	TokenHash string
	ClientID  string
	Subject   string
	Scope     string
	CodeID    string
	ChainID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	IsRevoked bool
}

// IsExpired checks if the access token has expired
func (a *AccessToken) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// RefreshToken represents a long-lived refresh token. Tokens form rotation
// chains: rotation marks the old token ReplacedBy the successor's ID while
// the ChainID and AbsoluteExpiresAt carry over. At most one token per chain
// is active; presenting a replaced token reveals a replay.
type RefreshToken struct {
	ID                string
	TokenHash         string
	ClientID          string
	Subject           string
	Scope             string
	CodeID            string
	ChainID           string
	ReplacedBy        *string
	IssuedAt          time.Time
	AbsoluteExpiresAt time.Time
	RevokedAt         *time.Time
	IsRevoked         bool
}

// IsExpired checks the token against its absolute lifetime.
func (r *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(r.AbsoluteExpiresAt)
}

// Active reports whether the token may still be redeemed.
func (r *RefreshToken) Active(now time.Time) bool {
	return !r.IsRevoked && r.ReplacedBy == nil && !r.IsExpired(now)
}

// ClientRepository defines the interface for OAuth2 client persistence
type ClientRepository interface {
	// Create registers a new client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a client by client_id
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// Delete removes a client
	Delete(ctx context.Context, clientID string) error
}

// AuthorizationCodeRepository defines the interface for code persistence
type AuthorizationCodeRepository interface {
	// Create stores a new authorization code
	Create(ctx context.Context, code *AuthorizationCode) error

	// Consume atomically marks the code as used and returns it. Exactly one
	// concurrent caller wins; losers receive ErrCodeAlreadyUsed together
	// with the stored record so replay compensation can run.
	Consume(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteExpired removes all expired authorization codes
	DeleteExpired(ctx context.Context) error
}

// AccessTokenRepository defines the interface for access token persistence
type AccessTokenRepository interface {
	// Create stores a new access token
	Create(ctx context.Context, token *AccessToken) error

	// GetByHash retrieves an access token by its SHA-256 hash
	GetByHash(ctx context.Context, tokenHash string) (*AccessToken, error)

	// Revoke marks a single access token revoked
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeByCodeID revokes every access token derived from a code
	RevokeByCodeID(ctx context.Context, codeID string) error

	// RevokeByChainID revokes every access token tied to a rotation chain
	RevokeByChainID(ctx context.Context, chainID string) error

	// DeleteExpired removes all expired access tokens
	DeleteExpired(ctx context.Context) error
}

// RefreshTokenRepository defines the interface for refresh token persistence
type RefreshTokenRepository interface {
	// Create stores a new refresh token
	Create(ctx context.Context, token *RefreshToken) error

	// GetByHash retrieves a refresh token by its SHA-256 hash
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Replace atomically marks the token identified by tokenHash as replaced
	// by successorID. The check-and-set succeeds only while the token is
	// neither revoked nor already replaced; losers receive ErrTokenReplaced.
	// This is the rotation linearization point.
	Replace(ctx context.Context, tokenHash, successorID string) error

	// Revoke marks a single refresh token revoked
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeChain revokes every refresh token in a rotation chain
	RevokeChain(ctx context.Context, chainID string) error

	// RevokeByCodeID revokes every refresh token derived from a code
	RevokeByCodeID(ctx context.Context, codeID string) error

	// DeleteExpired removes all tokens past their absolute expiry
	DeleteExpired(ctx context.Context) error
}
