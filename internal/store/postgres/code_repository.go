package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/oauth2"
)

// CodeRepository implements oauth2.AuthorizationCodeRepository
type CodeRepository struct {
	db *DB
}

// NewCodeRepository creates a new authorization code repository
func NewCodeRepository(db *DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create implements oauth2.AuthorizationCodeRepository
func (r *CodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO authorization_codes (
			id, code, client_id, subject, redirect_uri, scope, state, nonce,
			code_challenge, code_challenge_method, auth_time, mfa_completed,
			expires_at, used_at, is_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		code.ID, code.Code, code.ClientID, code.Subject, code.RedirectURI, code.Scope,
		code.State, code.Nonce, code.CodeChallenge, code.CodeChallengeMethod,
		code.AuthTime, code.MFACompleted, code.ExpiresAt, code.UsedAt, code.IsUsed, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	return nil
}

// Consume implements the atomic fresh -> consumed transition as a
// conditional UPDATE. Exactly one caller gets RowsAffected == 1; everyone
// else falls through to the SELECT and learns the code was already used.
func (r *CodeRepository) Consume(ctx context.Context, code string) (*oauth2.AuthorizationCode, error) {
	rec, err := r.scanCode(ctx, `
		UPDATE authorization_codes
		SET is_used = TRUE, used_at = NOW()
		WHERE code = $1 AND is_used = FALSE
		RETURNING id, code, client_id, subject, redirect_uri, scope, state, nonce,
		          code_challenge, code_challenge_method, auth_time, mfa_completed,
		          expires_at, used_at, is_used, created_at
	`, code)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	rec, err = r.scanCode(ctx, `
		SELECT id, code, client_id, subject, redirect_uri, scope, state, nonce,
		       code_challenge, code_challenge_method, auth_time, mfa_completed,
		       expires_at, used_at, is_used, created_at
		FROM authorization_codes
		WHERE code = $1
	`, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}
	return rec, oauth2.ErrCodeAlreadyUsed
}

// DeleteExpired implements oauth2.AuthorizationCodeRepository
func (r *CodeRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return nil
}

func (r *CodeRepository) scanCode(ctx context.Context, query, code string) (*oauth2.AuthorizationCode, error) {
	var rec oauth2.AuthorizationCode
	err := r.db.pool.QueryRow(ctx, query, code).Scan(
		&rec.ID, &rec.Code, &rec.ClientID, &rec.Subject, &rec.RedirectURI, &rec.Scope,
		&rec.State, &rec.Nonce, &rec.CodeChallenge, &rec.CodeChallengeMethod,
		&rec.AuthTime, &rec.MFACompleted, &rec.ExpiresAt, &rec.UsedAt, &rec.IsUsed, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
