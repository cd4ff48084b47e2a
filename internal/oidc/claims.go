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
	"strings"
)

// UserClaims is the profile data a user directory exposes for token claims
type UserClaims struct {
	Subject       string
	Name          string
	Picture       string
	Email         string
	EmailVerified bool
}

// UserSource resolves subjects to their claims. Implemented by the login
// collaborator's directory.
type UserSource interface {
	BySubject(ctx context.Context, subject string) (*UserClaims, error)
}

// claimsForScope maps granted scopes to OIDC standard claims:
// profile releases name and picture, email releases email and
// email_verified. Scopes the user record cannot satisfy release nothing.
func claimsForScope(u *UserClaims, scope string) map[string]any {
	claims := map[string]any{}
	if u == nil {
		return claims
	}
	for _, s := range strings.Fields(scope) {
		switch s {
		case "profile":
			if u.Name != "" {
				claims["name"] = u.Name
			}
			if u.Picture != "" {
				claims["picture"] = u.Picture
			}
		case "email":
			if u.Email != "" {
				claims["email"] = u.Email
				claims["email_verified"] = u.EmailVerified
			}
		}
	}
	return claims
}
