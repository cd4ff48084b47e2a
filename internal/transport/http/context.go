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
	"context"

	"github.com/authgrid/authgrid/internal/login"
)

type contextKey string

const identityKey contextKey = "identity"

// withIdentity stores the authenticated principal in the request context
func withIdentity(ctx context.Context, id *login.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// identityFrom retrieves the authenticated principal, if any
func identityFrom(ctx context.Context) (*login.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*login.Identity)
	return id, ok
}
