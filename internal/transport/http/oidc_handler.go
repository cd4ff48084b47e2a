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
	"net/http"
	"strings"

	"github.com/authgrid/authgrid/internal/oauth2"
)

// Discovery serves /.well-known/openid-configuration
// @Summary OIDC Discovery
// @Description Returns OpenID Connect configuration metadata
// @Tags OIDC
// @Produce json
// @Success 200 {object} oidc.DiscoveryMetadata
// @Router /.well-known/openid-configuration [get]
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oidcService.Discovery())
}

// JWKS serves /.well-known/jwks.json with public key material only
// @Summary JWKS
// @Description Returns the JSON Web Key Set for token verification
// @Tags OIDC
// @Produce json
// @Success 200 {object} oidc.JWKS
// @Router /.well-known/jwks.json [get]
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oidcService.Keys().JWKS())
}

// UserInfo serves /oauth/userinfo for Bearer access tokens carrying the
// openid scope. Claims released follow the token's granted scopes.
// @Summary OIDC UserInfo
// @Description Returns claims about the authenticated subject, filtered by the token's scopes
// @Tags OIDC
// @Produce json
// @Security BearerAuth
// @Success 200 {object} oidc.UserClaims
// @Failure 401 {object} map[string]string
// @Router /oauth/userinfo [get]
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		unauthorizedBearer(w, "invalid_request", "missing bearer token")
		return
	}

	token, err := h.oauth2Service.ValidateAccessToken(r.Context(), raw)
	if err != nil {
		unauthorizedBearer(w, "invalid_token", bearerErrorDescription(err))
		return
	}

	if !scopeContains(token.Scope, "openid") {
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="openid"`)
		respondError(w, http.StatusForbidden, "insufficient_scope")
		return
	}

	claims, err := h.oidcService.UserInfo(r.Context(), token.Subject, token.Scope)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, claims)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func bearerErrorDescription(err error) string {
	switch {
	case errors.Is(err, oauth2.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, oauth2.ErrTokenRevoked):
		return "token revoked"
	default:
		return "invalid token"
	}
}

func unauthorizedBearer(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate",
		`Bearer error="`+code+`", error_description="`+description+`"`)
	respondError(w, http.StatusUnauthorized, code)
}

func scopeContains(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
