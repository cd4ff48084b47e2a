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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authgrid/authgrid/internal/oauth2"
)

// ClientRepository implements oauth2.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create implements oauth2.ClientRepository
func (r *ClientRepository) Create(ctx context.Context, client *oauth2.Client) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO clients (
			id, client_id, secret_hash, name, redirect_uris,
			allowed_scopes, allowed_grants, trusted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		client.ID, client.ClientID, client.SecretHash, client.Name, client.RedirectURIs,
		client.AllowedScopes, client.AllowedGrants, client.Trusted, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return oauth2.ErrClientAlreadyExists
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetByClientID implements oauth2.ClientRepository
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*oauth2.Client, error) {
	var client oauth2.Client
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, secret_hash, name, redirect_uris,
		       allowed_scopes, allowed_grants, trusted, created_at, updated_at
		FROM clients
		WHERE client_id = $1
	`, clientID).Scan(
		&client.ID, &client.ClientID, &client.SecretHash, &client.Name, &client.RedirectURIs,
		&client.AllowedScopes, &client.AllowedGrants, &client.Trusted, &client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

// Delete implements oauth2.ClientRepository
func (r *ClientRepository) Delete(ctx context.Context, clientID string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}
	return nil
}
