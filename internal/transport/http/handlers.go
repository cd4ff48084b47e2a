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

// Package http provides the HTTP transport: routing, request decoding and
// translation of domain errors into protocol responses. No grant or policy
// logic lives here.
package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authgrid/authgrid/internal/login"
	"github.com/authgrid/authgrid/internal/mfa"
	"github.com/authgrid/authgrid/internal/oauth2"
	"github.com/authgrid/authgrid/internal/oidc"
)

// Handler holds the services behind the HTTP surface
type Handler struct {
	oauth2Service *oauth2.Service
	oidcService   *oidc.Service
	mfaService    *mfa.Service
	loginProvider login.Provider
	logger        *slog.Logger
}

// NewHandler creates the HTTP handler set
func NewHandler(
	oauth2Service *oauth2.Service,
	oidcService *oidc.Service,
	mfaService *mfa.Service,
	loginProvider login.Provider,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		oauth2Service: oauth2Service,
		oidcService:   oidcService,
		mfaService:    mfaService,
		loginProvider: loginProvider,
		logger:        logger,
	}
}

// NewRouter builds the chi router with the standard middleware stack
func NewRouter(h *Handler, rl *RateLimiter, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if rl != nil {
		r.Use(rl.Middleware)
	}
	r.Use(LoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.Health)

	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Get("/oauth/authorize", h.Authorize)
	r.Post("/oauth/token", h.Token)
	r.Post("/oauth/introspect", h.Introspect)
	r.Post("/oauth/revoke", h.Revoke)
	r.Get("/oauth/userinfo", h.UserInfo)
	r.Post("/oauth/userinfo", h.UserInfo)

	r.Route("/mfa", func(r chi.Router) {
		r.Use(h.requireLogin)
		r.Get("/factors", h.ListFactors)
		r.Post("/enroll", h.EnrollFactor)
		r.Post("/backup-codes", h.GenerateBackupCodes)
		r.Post("/challenge", h.CreateChallenge)
		r.Post("/verify", h.VerifyChallenge)
		r.Delete("/challenge/{id}", h.CancelChallenge)
	})

	r.Post("/admin/clients", h.RegisterClient)

	return otelhttp.NewHandler(r, "authgrid",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return fmt.Sprintf("%s %s", req.Method, req.URL.Path)
		}),
	)
}

// Health reports liveness
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterClient handles POST /admin/clients. The generated secret appears
// in this response and nowhere else.
// @Summary Register OAuth2 Client
// @Description Creates a client and returns its credentials once
// @Tags Admin
// @Accept json
// @Produce json
// @Param body body oauth2.RegisterClientInput true "Client registration"
// @Success 201 {object} oauth2.Client
// @Failure 400 {object} oauth2.Error
// @Router /admin/clients [post]
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
		Scopes       []string `json:"scopes"`
		GrantTypes   []string `json:"grant_types"`
		Public       bool     `json:"public"`
		Trusted      bool     `json:"trusted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	client, err := h.oauth2Service.RegisterClient(r.Context(), oauth2.RegisterClientInput{
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		GrantTypes:   req.GrantTypes,
		Public:       req.Public,
		Trusted:      req.Trusted,
	})
	if err != nil {
		if oauthErr, ok := err.(*oauth2.Error); ok {
			respondJSON(w, http.StatusBadRequest, oauthErr)
			return
		}
		h.logger.ErrorContext(r.Context(), "client registration failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, client)
}

// requireLogin gates the MFA self-service surface behind the login provider
func (h *Handler) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.loginProvider.IdentityFromRequest(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
