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

// Package mfa orchestrates second-factor enrolment and verification:
// TOTP (RFC 6238), SMS and email one-time codes, and single-use backup
// codes. Raw codes and seeds never leave the package except at the moment
// of enrolment or delivery.
package mfa

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/authgrid/authgrid/internal/audit"
)

const (
	totpPeriod     = 30
	totpDigits     = otp.DigitsSix
	totpSecretSize = 20 // 160-bit seed per RFC 4226
	totpSkew       = 1  // accept one step either side

	deliveryCodeDigits = 6
	backupCodeCount    = 10
)

// Config holds challenge policy
type Config struct {
	// Issuer is the authorization server's issuer URL; its host names the
	// account in TOTP provisioning URIs.
	Issuer string

	// ChallengeTTL bounds challenge lifetime (capped at 5 minutes)
	ChallengeTTL time.Duration

	// MaxAttempts bounds verification attempts per challenge
	MaxAttempts int
}

// Service implements the MFA orchestrator
type Service struct {
	factors    FactorRepository
	challenges ChallengeRepository
	notifier   Notifier
	auditor    audit.Logger
	cfg        Config

	now func() time.Time
}

// NewService creates the MFA service. notifier may be nil when no delivery
// factors are wired.
func NewService(factors FactorRepository, challenges ChallengeRepository, notifier Notifier, auditor audit.Logger, cfg Config) *Service {
	if cfg.ChallengeTTL <= 0 || cfg.ChallengeTTL > 5*time.Minute {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Service{
		factors:    factors,
		challenges: challenges,
		notifier:   notifier,
		auditor:    auditor,
		cfg:        cfg,
		now:        time.Now,
	}
}

// TOTPEnrollment is returned once at enrolment; neither the secret nor the
// backup codes are retrievable afterwards.
type TOTPEnrollment struct {
	FactorID        string   `json:"factor_id"`
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// EnrollTOTP enrols a TOTP factor for the subject. The factor stays
// unverified until a first code is verified through a challenge.
func (s *Service) EnrollTOTP(ctx context.Context, subject string) (*TOTPEnrollment, error) {
	if _, err := s.factorOfKind(ctx, subject, KindTOTP); err == nil {
		return nil, ErrFactorExists
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuerName(s.cfg.Issuer),
		AccountName: subject,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	factor := &Factor{
		ID:        uuid.NewString(),
		Subject:   subject,
		Kind:      KindTOTP,
		Secret:    key.Secret(),
		CreatedAt: s.now(),
	}
	if err := s.factors.Create(ctx, factor); err != nil {
		return nil, fmt.Errorf("failed to store factor: %w", err)
	}

	// Recovery codes ship with the enrolment. They activate with the first
	// successful verification, not before.
	backupCodes, err := s.issueBackupCodes(ctx, subject, false)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeMFAEnrolled,
		Subject:  subject,
		Metadata: map[string]any{"kind": string(KindTOTP)},
	})

	return &TOTPEnrollment{
		FactorID:        factor.ID,
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     backupCodes,
	}, nil
}

// EnrollDelivery enrols an SMS or email factor. Verification of a first
// challenge is required before the factor counts.
func (s *Service) EnrollDelivery(ctx context.Context, subject string, kind Kind, destination string) (*Factor, error) {
	if kind != KindSMS && kind != KindEmail {
		return nil, fmt.Errorf("kind %q is not a delivery factor", kind)
	}
	if destination == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if _, err := s.factorOfKind(ctx, subject, kind); err == nil {
		return nil, ErrFactorExists
	}

	factor := &Factor{
		ID:          uuid.NewString(),
		Subject:     subject,
		Kind:        kind,
		Destination: destination,
		CreatedAt:   s.now(),
	}
	if err := s.factors.Create(ctx, factor); err != nil {
		return nil, fmt.Errorf("failed to store factor: %w", err)
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeMFAEnrolled,
		Subject:  subject,
		Metadata: map[string]any{"kind": string(kind), "destination": maskDestination(destination)},
	})

	return factor, nil
}

// GenerateBackupCodes issues a fresh set of ten single-use backup codes,
// replacing any previous set. The clear codes are returned exactly once.
func (s *Service) GenerateBackupCodes(ctx context.Context, subject string) ([]string, error) {
	return s.issueBackupCodes(ctx, subject, true)
}

// issueBackupCodes mints a set of single-use codes and replaces whatever set
// the subject had. When activate is false a fresh factor starts unverified
// and an existing one keeps its state; the factor then activates on its
// first successful verification.
func (s *Service) issueBackupCodes(ctx context.Context, subject string, activate bool) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hashCode(code))
	}

	now := s.now()
	if existing, err := s.factorOfKind(ctx, subject, KindBackupCode); err == nil {
		existing.CodeHashes = hashes
		if activate {
			existing.Verified = true
			existing.Enabled = true
		}
		if err := s.factors.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to replace backup codes: %w", err)
		}
	} else {
		factor := &Factor{
			ID:         uuid.NewString(),
			Subject:    subject,
			Kind:       KindBackupCode,
			CodeHashes: hashes,
			Verified:   activate,
			Enabled:    activate,
			CreatedAt:  now,
		}
		if err := s.factors.Create(ctx, factor); err != nil {
			return nil, fmt.Errorf("failed to store backup codes: %w", err)
		}
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeMFAEnrolled,
		Subject:  subject,
		Metadata: map[string]any{"kind": string(KindBackupCode), "count": backupCodeCount},
	})

	return codes, nil
}

// ChallengeInfo is the caller-visible view of a pending challenge. The
// destination is masked; the code itself travels only through the notifier.
type ChallengeInfo struct {
	ID              string    `json:"challenge_id"`
	Kind            Kind      `json:"kind"`
	DestinationHint string    `json:"destination_hint,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// CreateChallenge starts a verification against the subject's factor of the
// given kind. For delivery factors a fresh 6-digit code is generated,
// stored hashed, and handed to the notifier after the record is persisted.
func (s *Service) CreateChallenge(ctx context.Context, subject string, kind Kind) (*ChallengeInfo, error) {
	factor, err := s.factorOfKind(ctx, subject, kind)
	if err != nil {
		return nil, ErrFactorNotFound
	}

	now := s.now()
	challenge := &Challenge{
		ID:          uuid.NewString(),
		Subject:     subject,
		FactorID:    factor.ID,
		Kind:        kind,
		ExpiresAt:   now.Add(s.cfg.ChallengeTTL),
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
	}

	var code string
	if kind == KindSMS || kind == KindEmail {
		code, err = generateNumericCode(deliveryCodeDigits)
		if err != nil {
			return nil, err
		}
		challenge.CodeHash = hashCode(code)
	}

	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	if code != "" && s.notifier != nil {
		// Best effort with a single retry; the stored challenge is the
		// source of truth and issuance never blocks on delivery.
		if err := s.notifier.Send(ctx, kind, factor.Destination, code); err != nil {
			s.notifier.Send(ctx, kind, factor.Destination, code) //nolint:errcheck
		}
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeMFAChallenged,
		Subject:  subject,
		Metadata: map[string]any{"kind": string(kind), "challenge_id": challenge.ID},
	})

	info := &ChallengeInfo{
		ID:        challenge.ID,
		Kind:      kind,
		ExpiresAt: challenge.ExpiresAt,
	}
	if factor.Destination != "" {
		info.DestinationHint = maskDestination(factor.Destination)
	}
	return info, nil
}

// VerifyResult reports a verification outcome
type VerifyResult struct {
	Verified          bool `json:"verified"`
	RemainingAttempts int  `json:"remaining_attempts"`
}

// Verify checks a code against a pending challenge. Each call consumes one
// attempt; a challenge dies on its single success, on expiry or when
// attempts run out. Unknown and foreign challenges return
// ErrVerificationFailed without further detail; a challenge the caller
// legitimately holds reports ErrChallengeExpired or ErrChallengeLocked.
func (s *Service) Verify(ctx context.Context, challengeID, subject, code string) (*VerifyResult, error) {
	challenge, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil || challenge.Subject != subject {
		return nil, ErrVerificationFailed
	}

	now := s.now()
	if challenge.IsExpired(now) {
		s.challenges.Delete(ctx, challengeID) //nolint:errcheck
		return nil, ErrChallengeExpired
	}
	if challenge.Attempts >= challenge.MaxAttempts {
		s.challenges.Delete(ctx, challengeID) //nolint:errcheck
		s.audit(ctx, audit.Event{
			Type:     audit.TypeMFALocked,
			Subject:  subject,
			Metadata: map[string]any{"challenge_id": challengeID},
		})
		return nil, ErrChallengeLocked
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, challengeID)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	if attempts > challenge.MaxAttempts {
		// A concurrent attempt pushed the counter past the limit first.
		s.challenges.Delete(ctx, challengeID) //nolint:errcheck
		s.audit(ctx, audit.Event{
			Type:     audit.TypeMFALocked,
			Subject:  subject,
			Metadata: map[string]any{"challenge_id": challengeID},
		})
		return nil, ErrChallengeLocked
	}

	factor, err := s.factors.GetByID(ctx, challenge.FactorID)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	ok, usedHash := s.checkCode(challenge, factor, code, now)
	remaining := challenge.MaxAttempts - attempts

	// Backup codes spend through a conditional update so a code is good for
	// exactly one verification even across concurrent challenges.
	if ok && usedHash != "" {
		if err := s.factors.ConsumeCodeHash(ctx, factor.ID, usedHash); err != nil {
			ok = false
		}
	}

	if !ok {
		s.audit(ctx, audit.Event{
			Type:     audit.TypeMFAFailed,
			Subject:  subject,
			Metadata: map[string]any{"kind": string(challenge.Kind), "remaining": remaining},
		})
		if remaining == 0 {
			s.challenges.Delete(ctx, challengeID) //nolint:errcheck
			s.audit(ctx, audit.Event{
				Type:     audit.TypeMFALocked,
				Subject:  subject,
				Metadata: map[string]any{"challenge_id": challengeID},
			})
		}
		return &VerifyResult{Verified: false, RemainingAttempts: remaining}, nil
	}

	// Single success: claiming the record is the check-and-set, so only one
	// of two racing correct-code calls gets to report success.
	if err := s.challenges.Consume(ctx, challengeID); err != nil {
		return nil, ErrVerificationFailed
	}

	if usedHash != "" {
		// Re-read so the flag update below does not resurrect the hash the
		// conditional update just removed.
		if fresh, err := s.factors.GetByID(ctx, factor.ID); err == nil {
			factor = fresh
		}
	}
	factor.Verified = true
	factor.Enabled = true
	used := now
	factor.LastUsedAt = &used
	if err := s.factors.Update(ctx, factor); err != nil {
		return nil, fmt.Errorf("failed to update factor: %w", err)
	}

	s.audit(ctx, audit.Event{
		Type:     audit.TypeMFAVerified,
		Subject:  subject,
		Metadata: map[string]any{"kind": string(challenge.Kind)},
	})

	return &VerifyResult{Verified: true, RemainingAttempts: remaining}, nil
}

// checkCode dispatches on factor kind. TOTP accepts one step of clock skew
// either side; delivery codes compare against the challenge hash; backup
// codes report the matched hash so the caller can spend it atomically.
func (s *Service) checkCode(challenge *Challenge, factor *Factor, code string, now time.Time) (bool, string) {
	switch challenge.Kind {
	case KindTOTP:
		ok, err := totp.ValidateCustom(code, factor.Secret, now, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      totpSkew,
			Digits:    totpDigits,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok, ""
	case KindSMS, KindEmail:
		return codeMatches(code, challenge.CodeHash), ""
	case KindBackupCode:
		for _, h := range factor.CodeHashes {
			if codeMatches(code, h) {
				return true, h
			}
		}
		return false, ""
	}
	return false, ""
}

// Cancel abandons a pending challenge
func (s *Service) Cancel(ctx context.Context, challengeID, subject string) error {
	challenge, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil || challenge.Subject != subject {
		return ErrChallengeNotFound
	}
	return s.challenges.Delete(ctx, challengeID)
}

// Protected implements oauth2.MFAGate: a subject is protected once any
// factor is verified and enabled.
func (s *Service) Protected(ctx context.Context, subject string) (bool, error) {
	factors, err := s.factors.GetBySubject(ctx, subject)
	if err != nil {
		return false, err
	}
	for _, f := range factors {
		if f.Verified && f.Enabled {
			return true, nil
		}
	}
	return false, nil
}

// FactorInfo is the secret-free listing view of a factor
type FactorInfo struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	DestinationHint string    `json:"destination_hint,omitempty"`
	Verified        bool      `json:"verified"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

// Factors lists the subject's enrolled factors without secret material
func (s *Service) Factors(ctx context.Context, subject string) ([]*FactorInfo, error) {
	factors, err := s.factors.GetBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	infos := make([]*FactorInfo, 0, len(factors))
	for _, f := range factors {
		info := &FactorInfo{
			ID:        f.ID,
			Kind:      f.Kind,
			Verified:  f.Verified,
			Enabled:   f.Enabled,
			CreatedAt: f.CreatedAt,
		}
		if f.Destination != "" {
			info.DestinationHint = maskDestination(f.Destination)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SweepExpired removes dead challenges; called from the lifecycle sweeper
func (s *Service) SweepExpired(ctx context.Context) error {
	return s.challenges.DeleteExpired(ctx)
}

func (s *Service) factorOfKind(ctx context.Context, subject string, kind Kind) (*Factor, error) {
	factors, err := s.factors.GetBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	for _, f := range factors {
		if f.Kind == kind {
			return f, nil
		}
	}
	return nil, ErrFactorNotFound
}

func (s *Service) audit(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Record(ctx, e)
	}
}

// issuerName extracts the display name for provisioning URIs from the
// issuer URL
func issuerName(issuer string) string {
	if u, err := url.Parse(issuer); err == nil && u.Host != "" {
		return u.Host
	}
	if issuer != "" {
		return issuer
	}
	return "authgrid"
}
