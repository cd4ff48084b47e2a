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

// Package login is the seam to the authentication collaborator. The
// authorization server core never authenticates end users itself; a
// Provider supplies the already-authenticated principal behind a request.
package login

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/authgrid/authgrid/internal/oidc"
)

var (
	ErrNotAuthenticated = errors.New("request is not authenticated")
	ErrUserNotFound     = errors.New("user not found")
)

// Identity is the authenticated resource owner behind a request
type Identity struct {
	Subject      string
	AuthTime     time.Time
	MFACompleted bool
}

// Provider resolves the authenticated identity for an incoming request.
// Session mechanics (cookies, login pages, upstream IdPs) live entirely
// behind this interface.
type Provider interface {
	IdentityFromRequest(r *http.Request) (*Identity, error)
}

// Trusted-header names for the proxy provider
const (
	HeaderSubject  = "X-Auth-Subject"
	HeaderAuthTime = "X-Auth-Time"
	HeaderMFA      = "X-Auth-MFA"
)

// HeaderProvider trusts identity headers set by an authenticating reverse
// proxy or a development harness. It must only be deployed behind a
// component that strips these headers from client traffic.
type HeaderProvider struct{}

// NewHeaderProvider creates a trusted-header provider
func NewHeaderProvider() *HeaderProvider {
	return &HeaderProvider{}
}

// IdentityFromRequest implements Provider
func (p *HeaderProvider) IdentityFromRequest(r *http.Request) (*Identity, error) {
	subject := r.Header.Get(HeaderSubject)
	if subject == "" {
		return nil, ErrNotAuthenticated
	}

	id := &Identity{
		Subject:  subject,
		AuthTime: time.Now(),
	}
	if raw := r.Header.Get(HeaderAuthTime); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			id.AuthTime = time.Unix(unix, 0)
		}
	}
	if raw := r.Header.Get(HeaderMFA); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			id.MFACompleted = v
		}
	}

	return id, nil
}

// Directory is an in-memory user directory implementing oidc.UserSource.
// Production deployments replace it with the organization's identity store.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*oidc.UserClaims
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*oidc.UserClaims)}
}

// Add registers or replaces a user record
func (d *Directory) Add(user *oidc.UserClaims) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := *user
	d.users[user.Subject] = &u
}

// BySubject implements oidc.UserSource
func (d *Directory) BySubject(_ context.Context, subject string) (*oidc.UserClaims, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[subject]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *user
	return &u, nil
}
