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

	"github.com/google/uuid"

	"github.com/authgrid/authgrid/internal/audit"
)

// TokenRequest represents the form parameters of POST /oauth/token
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the RFC 6749 Section 5.1 success body
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token dispatches a token request to its grant handler. Client
// authentication always happens first, before any grant-specific work.
func (s *Service) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.exchangeCode(ctx, client, req)
	case GrantClientCredentials:
		return s.clientCredentials(ctx, client, req)
	case GrantRefreshToken:
		return s.refreshToken(ctx, client, req)
	case "":
		return nil, NewError(ErrInvalidRequest, "grant_type is required")
	default:
		return nil, NewError(ErrUnsupportedGrantType, "unsupported grant_type")
	}
}

// exchangeCode implements the authorization_code grant. The code is consumed
// atomically before any other check; a consumed code presented again is
// treated as a replay and every token derived from it is revoked.
func (s *Service) exchangeCode(ctx context.Context, client *Client, req *TokenRequest) (*TokenResponse, error) {
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return nil, NewError(ErrUnauthorizedClient, "client is not authorized for this grant type")
	}
	if req.Code == "" {
		return nil, NewError(ErrInvalidRequest, "code is required")
	}

	code, err := s.codes.Consume(ctx, req.Code)
	switch {
	case errors.Is(err, ErrCodeAlreadyUsed):
		// Replay. Revoke everything that ever descended from this code,
		// including tokens minted through later refresh rotations.
		s.revokeCodeDescendants(ctx, code)
		replayed := audit.Event{Type: audit.TypeCodeReplayed}
		if code != nil {
			replayed.Subject = code.Subject
			replayed.ClientID = code.ClientID
		}
		s.audit(ctx, replayed)
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	case errors.Is(err, ErrCodeNotFound):
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	case err != nil:
		return nil, NewError(ErrServerError, "failed to consume authorization code")
	}

	now := s.now()
	if code.IsExpired(now) {
		return nil, NewError(ErrInvalidGrant, "authorization code expired")
	}
	if code.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "authorization code was issued to another client")
	}
	if req.RedirectURI == "" || req.RedirectURI != code.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, NewError(ErrInvalidRequest, "code_verifier is required")
		}
		if !VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			return nil, NewError(ErrInvalidGrant, "PKCE verification failed")
		}
	} else if req.CodeVerifier != "" {
		return nil, NewError(ErrInvalidGrant, "code_verifier provided but no code_challenge was bound to the code")
	}

	// MFA gate: a subject with enabled factors must have completed a
	// second-factor verification before the code was issued. The code is
	// already consumed at this point; re-issuance requires a fresh
	// authorization, which is the replay-safe reading.
	if s.mfa != nil && !code.MFACompleted {
		protected, err := s.mfa.Protected(ctx, code.Subject)
		if err != nil {
			return nil, NewError(ErrServerError, "failed to evaluate MFA policy")
		}
		if protected {
			return nil, NewError(ErrMFARequired, "multi-factor verification is required")
		}
	}

	chainID := uuid.NewString()

	accessRaw, accessRec, err := s.mintAccessToken(ctx, client, code.Subject, code.Scope, code.ID, chainID)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}

	resp := &TokenResponse{
		AccessToken: accessRaw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       code.Scope,
	}

	if client.AllowsGrant(GrantRefreshToken) {
		refreshRaw, err := GenerateToken()
		if err != nil {
			return nil, NewError(ErrServerError, "failed to issue refresh token")
		}
		refreshRec := &RefreshToken{
			ID:                uuid.NewString(),
			TokenHash:         HashToken(refreshRaw),
			ClientID:          client.ClientID,
			Subject:           code.Subject,
			Scope:             code.Scope,
			CodeID:            code.ID,
			ChainID:           chainID,
			IssuedAt:          now,
			AbsoluteExpiresAt: now.Add(s.cfg.RefreshTokenAbsoluteTTL),
		}
		if err := s.refreshTokens.Create(ctx, refreshRec); err != nil {
			return nil, NewError(ErrServerError, "failed to store refresh token")
		}
		resp.RefreshToken = refreshRaw
	}

	if hasScope(code.Scope, ScopeOpenID) && s.idTokens != nil {
		idToken, err := s.idTokens.IssueIDToken(ctx, IDTokenInput{
			Subject:     code.Subject,
			ClientID:    client.ClientID,
			Nonce:       code.Nonce,
			Scope:       code.Scope,
			AccessToken: accessRaw,
			AuthTime:    code.AuthTime,
		})
		if err != nil {
			return nil, NewError(ErrServerError, "failed to issue ID token")
		}
		resp.IDToken = idToken
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		Subject:  code.Subject,
		ClientID: client.ClientID,
		Metadata: map[string]any{"grant": GrantAuthorizationCode, "scope": code.Scope, "jti": accessRec.ID},
	})

	return resp, nil
}

// clientCredentials implements the client_credentials grant. Machine-to-
// machine only: confidential clients, no refresh token, no ID token.
func (s *Service) clientCredentials(ctx context.Context, client *Client, req *TokenRequest) (*TokenResponse, error) {
	if client.Public() {
		return nil, NewError(ErrUnauthorizedClient, "client_credentials requires a confidential client")
	}
	if !client.AllowsGrant(GrantClientCredentials) {
		return nil, NewError(ErrUnauthorizedClient, "client is not authorized for this grant type")
	}

	scope := req.Scope
	if scope == "" {
		scope = strings.Join(client.AllowedScopes, " ")
	} else if !client.ValidateScope(scope) {
		return nil, NewError(ErrInvalidScope, "requested scope exceeds the client's allowed scopes")
	}

	// The client acts on its own behalf; the token carries no subject and
	// introspection omits sub accordingly.
	accessRaw, accessRec, err := s.mintAccessToken(ctx, client, "", scope, "", "")
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ClientID: client.ClientID,
		Metadata: map[string]any{"grant": GrantClientCredentials, "scope": scope, "jti": accessRec.ID},
	})

	return &TokenResponse{
		AccessToken: accessRaw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// refreshToken implements the refresh_token grant with rotation. The
// presented token is replaced by a successor in one check-and-set; whoever
// loses that race holds a replayed token and the whole chain is revoked.
func (s *Service) refreshToken(ctx context.Context, client *Client, req *TokenRequest) (*TokenResponse, error) {
	if !client.AllowsGrant(GrantRefreshToken) {
		return nil, NewError(ErrUnauthorizedClient, "client is not authorized for this grant type")
	}
	if req.RefreshToken == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token is required")
	}

	hash := HashToken(req.RefreshToken)
	rt, err := s.refreshTokens.GetByHash(ctx, hash)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}

	now := s.now()

	if rt.IsRevoked || rt.ReplacedBy != nil {
		s.revokeChain(ctx, rt)
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}
	if rt.IsExpired(now) {
		return nil, NewError(ErrInvalidGrant, "refresh token expired")
	}
	if rt.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "refresh token was issued to another client")
	}

	// Scope may only narrow across a refresh (RFC 6749 Section 6).
	scope := req.Scope
	if scope == "" {
		scope = rt.Scope
	} else if !scopeSubset(scope, rt.Scope) {
		return nil, NewError(ErrInvalidScope, "requested scope exceeds the original grant")
	}

	successorID := uuid.NewString()
	if err := s.refreshTokens.Replace(ctx, hash, successorID); err != nil {
		if errors.Is(err, ErrTokenReplaced) || errors.Is(err, ErrTokenRevoked) {
			s.revokeChain(ctx, rt)
			return nil, NewError(ErrInvalidGrant, "invalid refresh token")
		}
		return nil, NewError(ErrServerError, "failed to rotate refresh token")
	}

	successorRaw, err := GenerateToken()
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue refresh token")
	}
	successor := &RefreshToken{
		ID:        successorID,
		TokenHash: HashToken(successorRaw),
		ClientID:  rt.ClientID,
		Subject:   rt.Subject,
		Scope:     rt.Scope,
		CodeID:    rt.CodeID,
		ChainID:   rt.ChainID,
		IssuedAt:  now,
		// Rotation never extends the chain's absolute lifetime.
		AbsoluteExpiresAt: rt.AbsoluteExpiresAt,
	}
	if err := s.refreshTokens.Create(ctx, successor); err != nil {
		return nil, NewError(ErrServerError, "failed to store refresh token")
	}

	accessRaw, accessRec, err := s.mintAccessToken(ctx, client, rt.Subject, scope, rt.CodeID, rt.ChainID)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}

	resp := &TokenResponse{
		AccessToken:  accessRaw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: successorRaw,
		Scope:        scope,
	}

	if hasScope(scope, ScopeOpenID) && s.idTokens != nil {
		idToken, err := s.idTokens.IssueIDToken(ctx, IDTokenInput{
			Subject:     rt.Subject,
			ClientID:    client.ClientID,
			Scope:       scope,
			AccessToken: accessRaw,
		})
		if err != nil {
			return nil, NewError(ErrServerError, "failed to issue ID token")
		}
		resp.IDToken = idToken
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		Subject:  rt.Subject,
		ClientID: client.ClientID,
		Metadata: map[string]any{"grant": GrantRefreshToken, "scope": scope, "jti": accessRec.ID},
	})

	return resp, nil
}

// mintAccessToken issues the configured access token form and stores its
// record. The raw token is returned once and only its hash persists.
func (s *Service) mintAccessToken(ctx context.Context, client *Client, subject, scope, codeID, chainID string) (string, *AccessToken, error) {
	now := s.now()
	rec := &AccessToken{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		Subject:   subject,
		Scope:     scope,
		CodeID:    codeID,
		ChainID:   chainID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}

	var raw string
	var err error
	if s.cfg.TokenFormat == TokenFormatJWT && s.signer != nil {
		raw, err = s.signer.SignAccessToken(ctx, AccessTokenClaims{
			JTI:       rec.ID,
			Subject:   subject,
			ClientID:  client.ClientID,
			Scope:     scope,
			IssuedAt:  now,
			ExpiresAt: rec.ExpiresAt,
		})
	} else {
		raw, err = GenerateToken()
	}
	if err != nil {
		return "", nil, err
	}

	rec.TokenHash = HashToken(raw)
	if err := s.accessTokens.Create(ctx, rec); err != nil {
		return "", nil, err
	}

	return raw, rec, nil
}

// revokeCodeDescendants revokes every token derived from a replayed code
func (s *Service) revokeCodeDescendants(ctx context.Context, code *AuthorizationCode) {
	if code == nil {
		return
	}
	s.accessTokens.RevokeByCodeID(ctx, code.ID)  //nolint:errcheck
	s.refreshTokens.RevokeByCodeID(ctx, code.ID) //nolint:errcheck
}

// revokeChain revokes a rotation chain after a refresh token replay
func (s *Service) revokeChain(ctx context.Context, rt *RefreshToken) {
	s.refreshTokens.RevokeChain(ctx, rt.ChainID)    //nolint:errcheck
	s.accessTokens.RevokeByChainID(ctx, rt.ChainID) //nolint:errcheck
	s.audit(ctx, audit.Event{
		Type:     audit.TypeTokenReplayed,
		Subject:  rt.Subject,
		ClientID: rt.ClientID,
		Metadata: map[string]any{"chain_id": rt.ChainID},
	})
}

func hasScope(scope, want string) bool {
	for _, s := range splitScope(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// scopeSubset reports whether every token in requested appears in granted
func scopeSubset(requested, granted string) bool {
	for _, r := range splitScope(requested) {
		if !hasScope(granted, r) {
			return false
		}
	}
	return true
}
