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

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/authgrid/authgrid/internal/login"
	"github.com/authgrid/authgrid/internal/oauth2"
)

// Authorize handles GET /oauth/authorize. The principal must already be
// authenticated by the login collaborator; the core never renders login UI.
// @Summary OAuth2 Authorization Endpoint
// @Description Starts the authorization code flow (RFC 6749)
// @Tags OAuth2
// @Produce json
// @Param response_type query string true "Response Type (must be 'code')"
// @Param client_id query string true "Client ID"
// @Param redirect_uri query string true "Redirect URI"
// @Param scope query string false "Scopes"
// @Param state query string false "Opaque client state"
// @Param nonce query string false "Nonce (OIDC)"
// @Param code_challenge query string false "PKCE Challenge"
// @Param code_challenge_method query string false "PKCE Method (plain or S256)"
// @Success 302 {string} string "Redirect with code and state"
// @Failure 400 {object} oauth2.Error
// @Router /oauth/authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	identity, err := h.loginProvider.IdentityFromRequest(r)
	if err != nil {
		if errors.Is(err, login.ErrNotAuthenticated) {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	q := r.URL.Query()
	req := &oauth2.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	result, err := h.oauth2Service.Authorize(r.Context(), req, &oauth2.Principal{
		Subject:      identity.Subject,
		AuthTime:     identity.AuthTime,
		MFACompleted: identity.MFACompleted,
	})
	if err != nil {
		// Unknown client or unregistered redirect_uri: never redirect.
		var noRedirect *oauth2.NoRedirectError
		if errors.As(err, &noRedirect) {
			respondJSON(w, http.StatusBadRequest, noRedirect.Err)
			return
		}

		var oauthErr *oauth2.Error
		if errors.As(err, &oauthErr) {
			redirectWithParams(w, r, req.RedirectURI, errorParams(oauthErr))
			return
		}

		h.logger.ErrorContext(r.Context(), "authorize failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	params := url.Values{}
	params.Set("code", result.Code)
	if result.State != "" {
		params.Set("state", result.State)
	}
	redirectWithParams(w, r, result.RedirectURI, params)
}

// Token handles POST /oauth/token
// @Summary OAuth2 Token Endpoint
// @Description Exchange a grant for tokens (RFC 6749)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "Grant Type (authorization_code, client_credentials or refresh_token)"
// @Param code formData string false "Authorization Code"
// @Param redirect_uri formData string false "Redirect URI"
// @Param code_verifier formData string false "PKCE Verifier"
// @Param refresh_token formData string false "Refresh Token"
// @Param scope formData string false "Scope"
// @Param client_id formData string false "Client ID (if not Basic Auth)"
// @Param client_secret formData string false "Client Secret (if not Basic Auth)"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Failure 401 {object} oauth2.Error
// @Router /oauth/token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "failed to parse request body"))
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, err.Error()))
		return
	}

	req := &oauth2.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}

	resp, err := h.oauth2Service.Token(r.Context(), req)
	if err != nil {
		h.respondTokenError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	respondJSON(w, http.StatusOK, resp)
}

// Introspect handles POST /oauth/introspect (RFC 7662). The endpoint
// itself requires client authentication.
// @Summary Token Introspection
// @Description Report the state of a token (RFC 7662)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to introspect"
// @Param client_id formData string false "Client ID (if not Basic Auth)"
// @Param client_secret formData string false "Client Secret (if not Basic Auth)"
// @Success 200 {object} oauth2.Introspection
// @Failure 401 {object} oauth2.Error
// @Router /oauth/introspect [post]
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "failed to parse request body"))
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, err.Error()))
		return
	}
	if _, err := h.oauth2Service.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		h.respondTokenError(w, r, err)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "token is required"))
		return
	}

	respondJSON(w, http.StatusOK, h.oauth2Service.Introspect(r.Context(), token))
}

// Revoke handles POST /oauth/revoke (RFC 7009). Revocation is idempotent
// and the response is 200 whether or not the token was live.
// @Summary Token Revocation
// @Description Revoke an access or refresh token (RFC 7009)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to revoke"
// @Param client_id formData string false "Client ID (if not Basic Auth)"
// @Param client_secret formData string false "Client Secret (if not Basic Auth)"
// @Success 200 {string} string "OK"
// @Failure 401 {object} oauth2.Error
// @Router /oauth/revoke [post]
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "failed to parse request body"))
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, err.Error()))
		return
	}
	client, err := h.oauth2Service.AuthenticateClient(r.Context(), clientID, clientSecret)
	if err != nil {
		h.respondTokenError(w, r, err)
		return
	}

	h.oauth2Service.Revoke(r.Context(), client, r.PostFormValue("token"))
	w.WriteHeader(http.StatusOK)
}

// clientCredentials extracts client authentication from the Basic header or
// the form body. Credentials in both places is an error (RFC 6749 2.3.1).
func clientCredentials(r *http.Request) (string, string, error) {
	basicID, basicSecret, hasBasic := r.BasicAuth()
	formID := r.PostFormValue("client_id")
	formSecret := r.PostFormValue("client_secret")

	if hasBasic {
		if formSecret != "" {
			return "", "", errors.New("client credentials must not appear in both header and body")
		}
		if formID != "" && formID != basicID {
			return "", "", errors.New("client_id mismatch between header and body")
		}
		// Basic credentials are form-urlencoded per RFC 6749 Section 2.3.1.
		if id, err := url.QueryUnescape(basicID); err == nil {
			basicID = id
		}
		if secret, err := url.QueryUnescape(basicSecret); err == nil {
			basicSecret = secret
		}
		return basicID, basicSecret, nil
	}

	return formID, formSecret, nil
}

// respondTokenError maps protocol errors to status codes per RFC 6749
// Section 5.2.
func (h *Handler) respondTokenError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *oauth2.Error
	if !errors.As(err, &oauthErr) {
		h.logger.ErrorContext(r.Context(), "token endpoint failure", slog.Any("error", err))
		respondOAuthError(w, oauth2.NewError(oauth2.ErrServerError, "internal error"))
		return
	}

	switch oauthErr.Code {
	case oauth2.ErrInvalidClient:
		w.Header().Set("WWW-Authenticate", `Basic realm="authgrid"`)
		respondJSON(w, http.StatusUnauthorized, oauthErr)
	case oauth2.ErrServerError:
		respondJSON(w, http.StatusInternalServerError, oauthErr)
	default:
		respondJSON(w, http.StatusBadRequest, oauthErr)
	}
}

func respondOAuthError(w http.ResponseWriter, oauthErr *oauth2.Error) {
	status := http.StatusBadRequest
	switch oauthErr.Code {
	case oauth2.ErrInvalidClient:
		status = http.StatusUnauthorized
	case oauth2.ErrServerError:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, oauthErr)
}

func errorParams(oauthErr *oauth2.Error) url.Values {
	params := url.Values{}
	params.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		params.Set("error_description", oauthErr.Description)
	}
	if oauthErr.State != "" {
		params.Set("state", oauthErr.State)
	}
	return params
}

// redirectWithParams appends query parameters to the redirect URI,
// preserving any it already carries.
func redirectWithParams(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid redirect_uri")
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
