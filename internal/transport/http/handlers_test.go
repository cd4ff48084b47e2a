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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/login"
	"github.com/authgrid/authgrid/internal/mfa"
	"github.com/authgrid/authgrid/internal/oauth2"
	"github.com/authgrid/authgrid/internal/oidc"
	"github.com/authgrid/authgrid/internal/store/memory"
)

const (
	testIssuer    = "https://auth.example.com"
	testRedirect  = "https://app.example/callback"
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

type capturingNotifier struct {
	code string
}

func (n *capturingNotifier) Send(_ context.Context, _ mfa.Kind, _, code string) error {
	n.code = code
	return nil
}

type testServer struct {
	srv      *httptest.Server
	client   *oauth2.RegisteredClient
	store    *memory.Store
	notifier *capturingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore(0)
	t.Cleanup(store.Close)

	keys, err := oidc.NewKeyManager(context.Background(), oidc.AlgES256, time.Hour, time.Minute, nil)
	require.NoError(t, err)

	directory := login.NewDirectory()
	directory.Add(&oidc.UserClaims{
		Subject:       "user-1",
		Name:          "Ada Lovelace",
		Email:         "ada@example.com",
		EmailVerified: true,
	})

	oidcService := oidc.NewService(testIssuer, 10*time.Minute, keys, directory)

	notifier := &capturingNotifier{}
	mfaService := mfa.NewService(store.Factors, store.Challenges, notifier, nil, mfa.Config{
		Issuer:       testIssuer,
		ChallengeTTL: 5 * time.Minute,
		MaxAttempts:  3,
	})

	oauth2Service := oauth2.NewService(
		store.Clients, store.Codes, store.AccessTokens, store.RefreshTokens,
		oauth2.NewSecretHasher(), oidcService, oidcService, mfaService, nil,
		oauth2.Config{
			CodeTTL:        5 * time.Minute,
			AccessTokenTTL: time.Hour,
		},
	)

	handler := NewHandler(oauth2Service, oidcService, mfaService, login.NewHeaderProvider(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(NewRouter(handler, nil, time.Minute))
	t.Cleanup(srv.Close)

	client, err := oauth2Service.RegisterClient(context.Background(), oauth2.RegisterClientInput{
		Name:         "web app",
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{"openid", "profile", "email"},
		GrantTypes:   []string{oauth2.GrantAuthorizationCode, oauth2.GrantRefreshToken},
	})
	require.NoError(t, err)

	return &testServer{srv: srv, client: client, store: store, notifier: notifier}
}

// do sends a request without following redirects
func (ts *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	httpClient := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) authorize(t *testing.T, query url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/authorize?"+query.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set(login.HeaderSubject, "user-1")
	return ts.do(t, req)
}

func (ts *testServer) authorizeQuery() url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {ts.client.ClientID},
		"redirect_uri":          {testRedirect},
		"scope":                 {"openid profile email"},
		"state":                 {"xyz"},
		"nonce":                 {"n-1"},
		"code_challenge":        {testChallenge},
		"code_challenge_method": {"S256"},
	}
}

func (ts *testServer) token(t *testing.T, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/token",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return ts.do(t, req)
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDiscoveryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta map[string]any
	decodeJSON(t, resp, &meta)
	assert.Equal(t, testIssuer, meta["issuer"])
	assert.Equal(t, testIssuer+"/oauth/token", meta["token_endpoint"])
	assert.Equal(t, testIssuer+"/.well-known/jwks.json", meta["jwks_uri"])
}

func TestJWKSEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/.well-known/jwks.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	decodeJSON(t, resp, &set)
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "sig", set.Keys[0]["use"])
	assert.NotContains(t, set.Keys[0], "d", "JWKS must not carry private material")
}

func TestAuthorizationCodeFlow(t *testing.T) {
	ts := newTestServer(t)

	// Authorize: 302 back to the client with code and state.
	resp := ts.authorize(t, ts.authorizeQuery())
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Token exchange.
	tokenResp := ts.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
		"client_id":     {ts.client.ClientID},
		"client_secret": {ts.client.ClientSecret},
	})
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)
	assert.Equal(t, "no-store", tokenResp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", tokenResp.Header.Get("Pragma"))

	var body struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		Scope        string `json:"scope"`
	}
	decodeJSON(t, tokenResp, &body)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.NotEmpty(t, body.IDToken, "openid scope must yield an ID token")
	assert.Equal(t, "openid profile email", body.Scope)

	// UserInfo with the issued token.
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+body.AccessToken)
	uiResp := ts.do(t, req)
	require.Equal(t, http.StatusOK, uiResp.StatusCode)

	var claims map[string]any
	decodeJSON(t, uiResp, &claims)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "Ada Lovelace", claims["name"])
	assert.Equal(t, "ada@example.com", claims["email"])

	// Introspect: active.
	form := url.Values{
		"token":         {body.AccessToken},
		"client_id":     {ts.client.ClientID},
		"client_secret": {ts.client.ClientSecret},
	}
	req, err = http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/introspect", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp = ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var intro map[string]any
	decodeJSON(t, resp, &intro)
	assert.Equal(t, true, intro["active"])
	assert.Equal(t, "user-1", intro["sub"])

	// Revoke, then introspect reports exactly {"active": false}.
	req, err = http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/revoke", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp = ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/introspect", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp = ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"active": false}`, string(raw))
}

func TestAuthorize_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/authorize?"+ts.authorizeQuery().Encode(), nil)
	require.NoError(t, err)
	resp := ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthorize_UnknownClientNeverRedirects(t *testing.T) {
	ts := newTestServer(t)
	q := ts.authorizeQuery()
	q.Set("client_id", "ghost")
	resp := ts.authorize(t, q)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
}

func TestAuthorize_ErrorRedirectCarriesState(t *testing.T) {
	ts := newTestServer(t)
	q := ts.authorizeQuery()
	q.Set("scope", "openid admin:everything")
	resp := ts.authorize(t, q)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestToken_InvalidClient(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.token(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.client.ClientID},
		"client_secret": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestToken_BasicAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.authorize(t, ts.authorizeQuery())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(ts.client.ClientID), url.QueryEscape(ts.client.ClientSecret))

	tokenResp := ts.do(t, req)
	assert.Equal(t, http.StatusOK, tokenResp.StatusCode)
}

func TestToken_CredentialsInBothPlaces(t *testing.T) {
	ts := newTestServer(t)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.client.ClientID},
		"client_secret": {ts.client.ClientSecret},
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(ts.client.ClientID, ts.client.ClientSecret)

	resp := ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestUserInfo_Unauthorized(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/userinfo", nil)
	require.NoError(t, err)
	resp := ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	req, err = http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestRegisterClientEndpoint(t *testing.T) {
	ts := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"client_name":   "cli tool",
		"redirect_uris": []string{"http://localhost:8080/callback"},
		"scopes":        []string{"openid"},
		"public":        true,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.srv.URL+"/admin/clients", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	decodeJSON(t, resp, &created)
	assert.NotEmpty(t, created["client_id"])
	assert.NotContains(t, created, "client_secret", "public clients get no secret")

	t.Run("rejects bad redirect", func(t *testing.T) {
		body, err := json.Marshal(map[string]any{
			"client_name":   "bad",
			"redirect_uris": []string{"http://not-loopback.example/cb"},
		})
		require.NoError(t, err)
		resp, err := http.Post(ts.srv.URL+"/admin/clients", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMFAEndpoints(t *testing.T) {
	ts := newTestServer(t)

	mfaReq := func(method, path string, body any) *http.Request {
		t.Helper()
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequest(method, ts.srv.URL+path, reader)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(login.HeaderSubject, "user-1")
		return req
	}

	t.Run("requires login", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/mfa/factors", nil)
		require.NoError(t, err)
		resp := ts.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	// Enroll TOTP and walk the verify flow end to end.
	resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/enroll", map[string]string{"kind": "totp"}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var enrollment struct {
		FactorID    string   `json:"factor_id"`
		Secret      string   `json:"secret"`
		BackupCodes []string `json:"backup_codes"`
	}
	decodeJSON(t, resp, &enrollment)
	require.NotEmpty(t, enrollment.Secret)
	assert.Len(t, enrollment.BackupCodes, 10)

	resp = ts.do(t, mfaReq(http.MethodPost, "/mfa/challenge", map[string]string{"kind": "totp"}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var challenge struct {
		ID string `json:"challenge_id"`
	}
	decodeJSON(t, resp, &challenge)
	require.NotEmpty(t, challenge.ID)

	t.Run("wrong code is 401 with remaining attempts", func(t *testing.T) {
		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/verify", map[string]string{
			"challenge_id": challenge.ID,
			"code":         "000000",
		}))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var result struct {
			Verified          bool `json:"verified"`
			RemainingAttempts int  `json:"remaining_attempts"`
		}
		decodeJSON(t, resp, &result)
		assert.False(t, result.Verified)
		assert.Equal(t, 2, result.RemainingAttempts)
	})

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	resp = ts.do(t, mfaReq(http.MethodPost, "/mfa/verify", map[string]string{
		"challenge_id": challenge.ID,
		"code":         code,
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The factor now shows as verified. Enrolment also brought the
	// backup-code factor along.
	resp = ts.do(t, mfaReq(http.MethodGet, "/mfa/factors", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Factors []struct {
			Kind     string `json:"kind"`
			Verified bool   `json:"verified"`
		} `json:"factors"`
	}
	decodeJSON(t, resp, &listing)
	require.Len(t, listing.Factors, 2)
	verified := map[string]bool{}
	for _, f := range listing.Factors {
		verified[f.Kind] = f.Verified
	}
	assert.True(t, verified["totp"])

	t.Run("backup codes", func(t *testing.T) {
		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/backup-codes", nil))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var body struct {
			BackupCodes []string `json:"backup_codes"`
		}
		decodeJSON(t, resp, &body)
		assert.Len(t, body.BackupCodes, 10)
	})

	t.Run("sms delivery", func(t *testing.T) {
		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/enroll", map[string]string{
			"kind":        "sms",
			"destination": "555-123-4567",
		}))
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = ts.do(t, mfaReq(http.MethodPost, "/mfa/challenge", map[string]string{"kind": "sms"}))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var ch struct {
			ID   string `json:"challenge_id"`
			Hint string `json:"destination_hint"`
		}
		decodeJSON(t, resp, &ch)
		assert.Equal(t, "***-***-4567", ch.Hint)
		require.NotEmpty(t, ts.notifier.code)

		resp = ts.do(t, mfaReq(http.MethodPost, "/mfa/verify", map[string]string{
			"challenge_id": ch.ID,
			"code":         ts.notifier.code,
		}))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("expired challenge reports mfa_expired", func(t *testing.T) {
		expired := &mfa.Challenge{
			ID:          "ch-expired",
			Subject:     "user-1",
			FactorID:    "f-gone",
			Kind:        mfa.KindSMS,
			ExpiresAt:   time.Now().Add(-time.Minute),
			MaxAttempts: 3,
			CreatedAt:   time.Now().Add(-10 * time.Minute),
		}
		require.NoError(t, ts.store.Challenges.Create(context.Background(), expired))

		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/verify", map[string]string{
			"challenge_id": expired.ID,
			"code":         "123456",
		}))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var body map[string]string
		decodeJSON(t, resp, &body)
		assert.Equal(t, "mfa_expired", body["error"])
	})

	t.Run("locked challenge reports mfa_locked", func(t *testing.T) {
		locked := &mfa.Challenge{
			ID:          "ch-locked",
			Subject:     "user-1",
			FactorID:    "f-gone",
			Kind:        mfa.KindSMS,
			ExpiresAt:   time.Now().Add(time.Minute),
			Attempts:    3,
			MaxAttempts: 3,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, ts.store.Challenges.Create(context.Background(), locked))

		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/verify", map[string]string{
			"challenge_id": locked.ID,
			"code":         "123456",
		}))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var body map[string]string
		decodeJSON(t, resp, &body)
		assert.Equal(t, "mfa_locked", body["error"])
	})

	t.Run("cancel challenge", func(t *testing.T) {
		resp := ts.do(t, mfaReq(http.MethodPost, "/mfa/challenge", map[string]string{"kind": "totp"}))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var ch struct {
			ID string `json:"challenge_id"`
		}
		decodeJSON(t, resp, &ch)

		resp = ts.do(t, mfaReq(http.MethodDelete, "/mfa/challenge/"+ch.ID, nil))
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestMFAGateOnTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// Protect user-1 with a verified factor by enrolling backup codes.
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/mfa/backup-codes", nil)
	require.NoError(t, err)
	req.Header.Set(login.HeaderSubject, "user-1")
	resp := ts.do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Authorize without MFA completion, then exchange: mfa_required.
	resp = ts.authorize(t, ts.authorizeQuery())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tokenResp := ts.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
		"client_id":     {ts.client.ClientID},
		"client_secret": {ts.client.ClientSecret},
	})
	require.Equal(t, http.StatusBadRequest, tokenResp.StatusCode)
	var body map[string]any
	decodeJSON(t, tokenResp, &body)
	assert.Equal(t, "mfa_required", body["error"])

	// With the proxy asserting MFA completion the exchange succeeds.
	authReq, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/oauth/authorize?"+ts.authorizeQuery().Encode(), nil)
	require.NoError(t, err)
	authReq.Header.Set(login.HeaderSubject, "user-1")
	authReq.Header.Set(login.HeaderMFA, "true")
	resp = ts.do(t, authReq)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err = url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	tokenResp = ts.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {loc.Query().Get("code")},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
		"client_id":     {ts.client.ClientID},
		"client_secret": {ts.client.ClientSecret},
	})
	assert.Equal(t, http.StatusOK, tokenResp.StatusCode)
}
