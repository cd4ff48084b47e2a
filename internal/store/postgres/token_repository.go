package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/oauth2"
)

// AccessTokenRepository implements oauth2.AccessTokenRepository
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new access token repository
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// Create implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) Create(ctx context.Context, token *oauth2.AccessToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO access_tokens (
			id, token_hash, client_id, subject, scope, code_id, chain_id,
			issued_at, expires_at, revoked_at, is_revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		token.ID, token.TokenHash, token.ClientID, token.Subject, token.Scope,
		token.CodeID, token.ChainID, token.IssuedAt, token.ExpiresAt,
		token.RevokedAt, token.IsRevoked,
	)
	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

// GetByHash implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*oauth2.AccessToken, error) {
	var token oauth2.AccessToken
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, token_hash, client_id, subject, scope, code_id, chain_id,
		       issued_at, expires_at, revoked_at, is_revoked
		FROM access_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.ID, &token.TokenHash, &token.ClientID, &token.Subject, &token.Scope,
		&token.CodeID, &token.ChainID, &token.IssuedAt, &token.ExpiresAt,
		&token.RevokedAt, &token.IsRevoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return &token, nil
}

// Revoke implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE token_hash = $1 AND is_revoked = FALSE
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth2.ErrTokenNotFound
	}
	return nil
}

// RevokeByCodeID implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) RevokeByCodeID(ctx context.Context, codeID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE code_id = $1 AND is_revoked = FALSE
	`, codeID)
	if err != nil {
		return fmt.Errorf("failed to revoke access tokens by code: %w", err)
	}
	return nil
}

// RevokeByChainID implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) RevokeByChainID(ctx context.Context, chainID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE chain_id = $1 AND chain_id <> '' AND is_revoked = FALSE
	`, chainID)
	if err != nil {
		return fmt.Errorf("failed to revoke access tokens by chain: %w", err)
	}
	return nil
}

// DeleteExpired implements oauth2.AccessTokenRepository
func (r *AccessTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM access_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("failed to delete expired access tokens: %w", err)
	}
	return nil
}

// RefreshTokenRepository implements oauth2.RefreshTokenRepository
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) Create(ctx context.Context, token *oauth2.RefreshToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, token_hash, client_id, subject, scope, code_id, chain_id,
			replaced_by, issued_at, absolute_expires_at, revoked_at, is_revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		token.ID, token.TokenHash, token.ClientID, token.Subject, token.Scope,
		token.CodeID, token.ChainID, token.ReplacedBy, token.IssuedAt,
		token.AbsoluteExpiresAt, token.RevokedAt, token.IsRevoked,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByHash implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*oauth2.RefreshToken, error) {
	var token oauth2.RefreshToken
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, token_hash, client_id, subject, scope, code_id, chain_id,
		       replaced_by, issued_at, absolute_expires_at, revoked_at, is_revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.ID, &token.TokenHash, &token.ClientID, &token.Subject, &token.Scope,
		&token.CodeID, &token.ChainID, &token.ReplacedBy, &token.IssuedAt,
		&token.AbsoluteExpiresAt, &token.RevokedAt, &token.IsRevoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &token, nil
}

// Replace implements the rotation check-and-set as a conditional UPDATE.
// A losing caller distinguishes revoked from replaced via the follow-up
// SELECT so the service can run the right compensation.
func (r *RefreshTokenRepository) Replace(ctx context.Context, tokenHash, successorID string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET replaced_by = $2
		WHERE token_hash = $1 AND replaced_by IS NULL AND is_revoked = FALSE
	`, tokenHash, successorID)
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	token, err := r.GetByHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	if token.IsRevoked {
		return oauth2.ErrTokenRevoked
	}
	return oauth2.ErrTokenReplaced
}

// Revoke implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE token_hash = $1 AND is_revoked = FALSE
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth2.ErrTokenNotFound
	}
	return nil
}

// RevokeChain implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) RevokeChain(ctx context.Context, chainID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE chain_id = $1 AND is_revoked = FALSE
	`, chainID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token chain: %w", err)
	}
	return nil
}

// RevokeByCodeID implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) RevokeByCodeID(ctx context.Context, codeID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = NOW()
		WHERE code_id = $1 AND is_revoked = FALSE
	`, codeID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens by code: %w", err)
	}
	return nil
}

// DeleteExpired implements oauth2.RefreshTokenRepository
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE absolute_expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return nil
}
