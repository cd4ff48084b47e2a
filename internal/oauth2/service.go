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
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authgrid/authgrid/internal/audit"
)

// Token format selection for access tokens
const (
	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"
)

// Config holds grant and token policy
type Config struct {
	CodeTTL                     time.Duration
	AccessTokenTTL              time.Duration
	RefreshTokenAbsoluteTTL     time.Duration
	TokenFormat                 string
	RequirePKCEForPublicClients bool
}

// IDTokenIssuer mints OpenID Connect ID tokens. Implemented by the oidc
// package; kept as an interface here so the grant machinery has no
// dependency on signing internals.
type IDTokenIssuer interface {
	IssueIDToken(ctx context.Context, in IDTokenInput) (string, error)
}

// IDTokenInput carries everything the signer needs for one ID token
type IDTokenInput struct {
	Subject     string
	ClientID    string
	Nonce       string
	Scope       string
	AccessToken string
	AuthTime    time.Time
}

// AccessTokenSigner produces JWT-form access tokens when TokenFormat is jwt
type AccessTokenSigner interface {
	SignAccessToken(ctx context.Context, in AccessTokenClaims) (string, error)
}

// AccessTokenClaims is the registered-claims subset carried by JWT access tokens
type AccessTokenClaims struct {
	JTI       string
	Subject   string
	ClientID  string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MFAGate answers whether a subject has enabled second factors.
// Implemented by the mfa package.
type MFAGate interface {
	Protected(ctx context.Context, subject string) (bool, error)
}

// Principal is the authenticated resource owner behind an authorize request,
// as established by the login collaborator.
type Principal struct {
	Subject      string
	AuthTime     time.Time
	MFACompleted bool
}

// NoRedirectError wraps protocol errors that must never be relayed to the
// redirect URI: unknown client or unregistered redirect_uri (RFC 6749
// Section 4.1.2.1 forbids redirecting in those cases).
type NoRedirectError struct {
	Err *Error
}

func (e *NoRedirectError) Error() string { return e.Err.Error() }
func (e *NoRedirectError) Unwrap() error { return e.Err }

// Service implements the OAuth2 authorization server core: client registry,
// authorization endpoint semantics, and the token grant state machines.
type Service struct {
	clients       ClientRepository
	codes         AuthorizationCodeRepository
	accessTokens  AccessTokenRepository
	refreshTokens RefreshTokenRepository
	hasher        *SecretHasher
	idTokens      IDTokenIssuer
	signer        AccessTokenSigner
	mfa           MFAGate
	auditor       audit.Logger
	cfg           Config

	// dummyHash equalizes authentication timing for unknown clients
	dummyHash string

	now func() time.Time
}

// NewService creates the OAuth2 service. idTokens, signer and mfa may be nil
// when the corresponding capability is not wired (signer is required when
// cfg.TokenFormat is jwt).
func NewService(
	clients ClientRepository,
	codes AuthorizationCodeRepository,
	accessTokens AccessTokenRepository,
	refreshTokens RefreshTokenRepository,
	hasher *SecretHasher,
	idTokens IDTokenIssuer,
	signer AccessTokenSigner,
	mfa MFAGate,
	auditor audit.Logger,
	cfg Config,
) *Service {
	if cfg.CodeTTL <= 0 || cfg.CodeTTL > 10*time.Minute {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenAbsoluteTTL <= 0 {
		cfg.RefreshTokenAbsoluteTTL = 30 * 24 * time.Hour
	}
	if cfg.TokenFormat == "" {
		cfg.TokenFormat = TokenFormatOpaque
	}

	dummy, _ := NewSecretHasher().Hash(uuid.NewString())

	return &Service{
		clients:       clients,
		codes:         codes,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		hasher:        hasher,
		idTokens:      idTokens,
		signer:        signer,
		mfa:           mfa,
		auditor:       auditor,
		cfg:           cfg,
		dummyHash:     dummy,
		now:           time.Now,
	}
}

// RegisterClientInput carries admin-supplied client metadata
type RegisterClientInput struct {
	Name         string
	RedirectURIs []string
	Scopes       []string
	GrantTypes   []string
	Public       bool
	Trusted      bool
}

// RegisteredClient is the registration result. ClientSecret is returned
// exactly once and never stored in clear.
type RegisteredClient struct {
	*Client
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient registers a new client application. Confidential clients
// receive a generated high-entropy secret, hashed with Argon2id at rest.
func (s *Service) RegisterClient(ctx context.Context, in RegisterClientInput) (*RegisteredClient, error) {
	if in.Name == "" {
		return nil, NewError(ErrInvalidRequest, "client_name is required")
	}
	if len(in.RedirectURIs) == 0 {
		return nil, NewError(ErrInvalidRequest, "at least one redirect_uri is required")
	}
	for _, raw := range in.RedirectURIs {
		if err := validateRedirectURIFormat(raw); err != nil {
			return nil, NewError(ErrInvalidRequest, fmt.Sprintf("redirect_uri %q: %v", raw, err))
		}
	}

	grants := in.GrantTypes
	if len(grants) == 0 {
		grants = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	for _, g := range grants {
		switch g {
		case GrantAuthorizationCode, GrantClientCredentials, GrantRefreshToken:
		default:
			return nil, NewError(ErrInvalidRequest, fmt.Sprintf("unsupported grant type %q", g))
		}
	}
	if in.Public {
		for _, g := range grants {
			if g == GrantClientCredentials {
				return nil, NewError(ErrInvalidRequest, "public clients cannot use client_credentials")
			}
		}
	}

	now := s.now()
	client := &Client{
		ID:            uuid.NewString(),
		ClientID:      uuid.NewString(),
		Name:          in.Name,
		RedirectURIs:  in.RedirectURIs,
		AllowedScopes: in.Scopes,
		AllowedGrants: grants,
		Trusted:       in.Trusted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var secret string
	if !in.Public {
		var err error
		secret, err = GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate client secret: %w", err)
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.SecretHash = hash
	}

	if err := s.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeClientRegistered,
		ClientID: client.ClientID,
		Metadata: map[string]any{"name": client.Name, "public": in.Public},
	})

	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// GetClient looks up a client by client_id
func (s *Service) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return s.clients.GetByClientID(ctx, clientID)
}

// AuthenticateClient verifies client credentials for the token endpoint.
// Unknown clients and bad secrets both yield invalid_client with no
// distinguishing detail; a dummy hash verification keeps the timing of the
// unknown-client path aligned with the known-client path.
func (s *Service) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	if clientID == "" {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		s.hasher.Verify(clientSecret, s.dummyHash) //nolint:errcheck
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	if client.Public() {
		// Public clients authenticate by identity only; a presented secret
		// is a misconfiguration, not a credential.
		if clientSecret != "" {
			return nil, NewError(ErrInvalidClient, "client authentication failed")
		}
		return client, nil
	}

	ok, err := s.hasher.Verify(clientSecret, client.SecretHash)
	if err != nil || !ok {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	return client, nil
}

// AuthorizeRequest represents the query parameters of GET /oauth/authorize
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult carries the issued code and echo parameters for redirect
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// Authorize validates an authorization request for an authenticated
// principal and mints a single-use code. Validation order is fixed:
// client, redirect_uri, response_type, scope, PKCE. Failures of the first
// two are wrapped in NoRedirectError; later failures carry the state
// parameter for the redirect.
func (s *Service) Authorize(ctx context.Context, req *AuthorizeRequest, principal *Principal) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, &NoRedirectError{Err: NewError(ErrInvalidRequest, "client_id is required")}
	}

	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, &NoRedirectError{Err: NewError(ErrInvalidClient, "unknown client")}
	}

	if req.RedirectURI == "" || !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, &NoRedirectError{Err: NewError(ErrInvalidRequest, "redirect_uri is not registered for this client")}
	}

	if req.ResponseType != "code" {
		return nil, NewError(ErrUnsupportedResponseType, "only response_type=code is supported").WithState(req.State)
	}

	if !client.AllowsGrant(GrantAuthorizationCode) {
		return nil, NewError(ErrUnauthorizedClient, "client is not authorized for the authorization code grant").WithState(req.State)
	}

	if !client.ValidateScope(req.Scope) {
		return nil, NewError(ErrInvalidScope, "requested scope exceeds the client's allowed scopes").WithState(req.State)
	}

	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			method = PKCEMethodPlain
		}
		if !ValidPKCEMethod(method) {
			return nil, NewError(ErrInvalidRequest, "unsupported code_challenge_method").WithState(req.State)
		}
		req.CodeChallengeMethod = method
	} else if client.Public() && s.cfg.RequirePKCEForPublicClients {
		return nil, NewError(ErrInvalidRequest, "public clients must use PKCE").WithState(req.State)
	}

	code, err := GenerateToken()
	if err != nil {
		return nil, NewError(ErrServerError, "failed to generate authorization code").WithState(req.State)
	}

	now := s.now()
	record := &AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                code,
		ClientID:            client.ClientID,
		Subject:             principal.Subject,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            principal.AuthTime,
		MFACompleted:        principal.MFACompleted,
		ExpiresAt:           now.Add(s.cfg.CodeTTL),
		CreatedAt:           now,
	}

	if err := s.codes.Create(ctx, record); err != nil {
		return nil, NewError(ErrServerError, "failed to store authorization code").WithState(req.State)
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		Subject:  principal.Subject,
		ClientID: client.ClientID,
		Metadata: map[string]any{"scope": req.Scope, "pkce": record.CodeChallengeMethod},
	})

	return &AuthorizeResult{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// CleanupExpired removes expired codes and tokens. Called periodically by
// the server lifecycle.
func (s *Service) CleanupExpired(ctx context.Context) error {
	if err := s.codes.DeleteExpired(ctx); err != nil {
		return fmt.Errorf("failed to delete expired codes: %w", err)
	}
	if err := s.accessTokens.DeleteExpired(ctx); err != nil {
		return fmt.Errorf("failed to delete expired access tokens: %w", err)
	}
	if err := s.refreshTokens.DeleteExpired(ctx); err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Record(ctx, e)
	}
}

func validateRedirectURIFormat(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URI")
	}
	if !u.IsAbs() {
		return fmt.Errorf("must be absolute")
	}
	if u.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("http is only allowed for loopback hosts")
		}
	}
	return nil
}

// splitScope normalizes a space-delimited scope string
func splitScope(scope string) []string {
	return strings.Fields(scope)
}
