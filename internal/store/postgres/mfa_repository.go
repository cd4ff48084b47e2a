package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/mfa"
)

// FactorRepository implements mfa.FactorRepository
type FactorRepository struct {
	db *DB
}

// NewFactorRepository creates a new factor repository
func NewFactorRepository(db *DB) *FactorRepository {
	return &FactorRepository{db: db}
}

// Create implements mfa.FactorRepository
func (r *FactorRepository) Create(ctx context.Context, factor *mfa.Factor) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO mfa_factors (
			id, subject, kind, secret, destination, code_hashes,
			verified, enabled, created_at, last_used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		factor.ID, factor.Subject, string(factor.Kind), factor.Secret, factor.Destination,
		factor.CodeHashes, factor.Verified, factor.Enabled, factor.CreatedAt, factor.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create factor: %w", err)
	}
	return nil
}

// GetByID implements mfa.FactorRepository
func (r *FactorRepository) GetByID(ctx context.Context, id string) (*mfa.Factor, error) {
	factor, err := r.scanFactor(r.db.pool.QueryRow(ctx, `
		SELECT id, subject, kind, secret, destination, code_hashes,
		       verified, enabled, created_at, last_used_at
		FROM mfa_factors
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mfa.ErrFactorNotFound
		}
		return nil, fmt.Errorf("failed to get factor: %w", err)
	}
	return factor, nil
}

// GetBySubject implements mfa.FactorRepository
func (r *FactorRepository) GetBySubject(ctx context.Context, subject string) ([]*mfa.Factor, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, subject, kind, secret, destination, code_hashes,
		       verified, enabled, created_at, last_used_at
		FROM mfa_factors
		WHERE subject = $1
		ORDER BY created_at
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list factors: %w", err)
	}
	defer rows.Close()

	var factors []*mfa.Factor
	for rows.Next() {
		factor, err := r.scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor: %w", err)
		}
		factors = append(factors, factor)
	}
	return factors, rows.Err()
}

// Update implements mfa.FactorRepository
func (r *FactorRepository) Update(ctx context.Context, factor *mfa.Factor) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE mfa_factors
		SET secret = $2, destination = $3, code_hashes = $4,
		    verified = $5, enabled = $6, last_used_at = $7
		WHERE id = $1
	`,
		factor.ID, factor.Secret, factor.Destination, factor.CodeHashes,
		factor.Verified, factor.Enabled, factor.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mfa.ErrFactorNotFound
	}
	return nil
}

// ConsumeCodeHash spends a backup code through a conditional update; the
// WHERE clause only matches while the hash is still in the set.
func (r *FactorRepository) ConsumeCodeHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE mfa_factors
		SET code_hashes = array_remove(code_hashes, $2)
		WHERE id = $1 AND $2 = ANY(code_hashes)
	`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mfa.ErrCodeSpent
	}
	return nil
}

// Delete implements mfa.FactorRepository
func (r *FactorRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM mfa_factors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mfa.ErrFactorNotFound
	}
	return nil
}

func (r *FactorRepository) scanFactor(row pgx.Row) (*mfa.Factor, error) {
	var factor mfa.Factor
	var kind string
	err := row.Scan(
		&factor.ID, &factor.Subject, &kind, &factor.Secret, &factor.Destination,
		&factor.CodeHashes, &factor.Verified, &factor.Enabled, &factor.CreatedAt, &factor.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	factor.Kind = mfa.Kind(kind)
	return &factor, nil
}

// ChallengeRepository implements mfa.ChallengeRepository
type ChallengeRepository struct {
	db *DB
}

// NewChallengeRepository creates a new challenge repository
func NewChallengeRepository(db *DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create implements mfa.ChallengeRepository
func (r *ChallengeRepository) Create(ctx context.Context, challenge *mfa.Challenge) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO mfa_challenges (
			id, subject, factor_id, kind, code_hash, expires_at,
			attempts, max_attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		challenge.ID, challenge.Subject, challenge.FactorID, string(challenge.Kind),
		challenge.CodeHash, challenge.ExpiresAt, challenge.Attempts,
		challenge.MaxAttempts, challenge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// GetByID implements mfa.ChallengeRepository
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*mfa.Challenge, error) {
	var challenge mfa.Challenge
	var kind string
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, subject, factor_id, kind, code_hash, expires_at,
		       attempts, max_attempts, created_at
		FROM mfa_challenges
		WHERE id = $1
	`, id).Scan(
		&challenge.ID, &challenge.Subject, &challenge.FactorID, &kind,
		&challenge.CodeHash, &challenge.ExpiresAt, &challenge.Attempts,
		&challenge.MaxAttempts, &challenge.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mfa.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	challenge.Kind = mfa.Kind(kind)
	return &challenge, nil
}

// IncrementAttempts bumps the counter atomically in the database
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.pool.QueryRow(ctx, `
		UPDATE mfa_challenges
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, mfa.ErrChallengeNotFound
		}
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

// Consume deletes the challenge; the row count decides the winner among
// concurrent successful verifications.
func (r *ChallengeRepository) Consume(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mfa.ErrChallengeNotFound
	}
	return nil
}

// Delete implements mfa.ChallengeRepository
func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

// DeleteExpired implements mfa.ChallengeRepository
func (r *ChallengeRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return nil
}
