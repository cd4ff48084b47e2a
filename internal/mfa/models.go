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

package mfa

import (
	"context"
	"errors"
	"time"
)

// Domain errors. ErrVerificationFailed deliberately covers unknown
// challenges, foreign challenges and wrong codes alike so callers cannot
// probe which factors or challenges exist; expiry and lockout of a
// challenge the caller legitimately holds are reported as themselves.
var (
	ErrFactorNotFound     = errors.New("factor not found")
	ErrFactorExists       = errors.New("factor already enrolled")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeLocked    = errors.New("challenge locked")
	ErrCodeSpent          = errors.New("backup code already spent")
	ErrVerificationFailed = errors.New("verification failed")
)

// Kind identifies a second-factor method
type Kind string

const (
	KindTOTP       Kind = "totp"
	KindSMS        Kind = "sms"
	KindEmail      Kind = "email"
	KindBackupCode Kind = "backup_code"
)

// ValidKind reports whether the kind is one we support
func ValidKind(k Kind) bool {
	switch k {
	case KindTOTP, KindSMS, KindEmail, KindBackupCode:
		return true
	}
	return false
}

// Factor is an enrolled second factor. Secret holds the base32 TOTP seed
// for totp factors; Destination the phone number or email address for
// delivery factors; CodeHashes the outstanding hashed backup codes.
// A factor authenticates only once Verified and Enabled.
type Factor struct {
	ID          string
	Subject     string
	Kind        Kind
	Secret      string
	Destination string
	CodeHashes  []string
	Verified    bool
	Enabled     bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// Challenge is one pending verification. CodeHash is set for delivery
// factors only; TOTP and backup codes are checked against the factor.
// A challenge dies on expiry, on its MaxAttempts-th failed attempt, or on
// its single success.
type Challenge struct {
	ID          string
	Subject     string
	FactorID    string
	Kind        Kind
	CodeHash    string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// IsExpired checks the challenge against its deadline
func (c *Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// FactorRepository defines the interface for factor persistence
type FactorRepository interface {
	// Create stores a new factor
	Create(ctx context.Context, factor *Factor) error

	// GetByID retrieves a factor
	GetByID(ctx context.Context, id string) (*Factor, error)

	// GetBySubject retrieves all factors enrolled for a subject
	GetBySubject(ctx context.Context, subject string) ([]*Factor, error)

	// Update persists factor state changes
	Update(ctx context.Context, factor *Factor) error

	// ConsumeCodeHash atomically removes one backup-code hash from the
	// factor so a code spends exactly once. Returns ErrCodeSpent when the
	// hash is no longer present.
	ConsumeCodeHash(ctx context.Context, id, hash string) error

	// Delete removes a factor
	Delete(ctx context.Context, id string) error
}

// ChallengeRepository defines the interface for challenge persistence
type ChallengeRepository interface {
	// Create stores a new challenge
	Create(ctx context.Context, challenge *Challenge) error

	// GetByID retrieves a challenge
	GetByID(ctx context.Context, id string) (*Challenge, error)

	// IncrementAttempts atomically bumps the attempt counter and returns
	// the new value. The counter never resets.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// Consume atomically removes a live challenge; exactly one caller
	// succeeds, everyone else gets ErrChallengeNotFound.
	Consume(ctx context.Context, id string) error

	// Delete removes a challenge
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes all expired challenges
	DeleteExpired(ctx context.Context) error
}

// Notifier delivers one-time codes for sms and email factors. Delivery is
// best effort: the challenge record is already stored when Send runs and a
// delivery failure never fails the challenge.
type Notifier interface {
	Send(ctx context.Context, kind Kind, destination, code string) error
}
