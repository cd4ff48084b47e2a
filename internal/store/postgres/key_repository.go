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
	"fmt"

	"github.com/authgrid/authgrid/internal/oidc"
)

// KeyRepository implements oidc.KeyPersister so kids survive restarts
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new signing key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Save stores a signing key, updating its windows on conflict
func (r *KeyRepository) Save(ctx context.Context, key *oidc.StoredKey) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO signing_keys (kid, alg, private_key_pem, not_before, not_after)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kid) DO UPDATE SET not_before = $4, not_after = $5
	`,
		key.KID, key.Alg, key.PrivateKeyPEM, key.NotBefore, key.NotAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to save signing key: %w", err)
	}
	return nil
}

// LoadAll retrieves every stored signing key
func (r *KeyRepository) LoadAll(ctx context.Context) ([]*oidc.StoredKey, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT kid, alg, private_key_pem, not_before, not_after
		FROM signing_keys
		ORDER BY not_before DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	defer rows.Close()

	var keys []*oidc.StoredKey
	for rows.Next() {
		var key oidc.StoredKey
		if err := rows.Scan(&key.KID, &key.Alg, &key.PrivateKeyPEM, &key.NotBefore, &key.NotAfter); err != nil {
			return nil, fmt.Errorf("failed to scan signing key: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}
