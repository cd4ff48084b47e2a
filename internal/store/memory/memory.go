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

// Package memory provides an in-memory Store backend. All repositories are
// safe for concurrent use; check-and-set operations (code consumption,
// refresh rotation, attempt counting) hold the write lock across the
// read-modify-write so exactly one racing caller wins. Returned records are
// defensive copies.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/authgrid/authgrid/internal/mfa"
	"github.com/authgrid/authgrid/internal/oauth2"
)

// Store aggregates the in-memory repositories and owns the expiry sweeper
type Store struct {
	Clients       *ClientStore
	Codes         *CodeStore
	AccessTokens  *AccessTokenStore
	RefreshTokens *RefreshTokenStore
	Factors       *FactorStore
	Challenges    *ChallengeStore

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewStore creates the in-memory backend. When sweepInterval is positive a
// background goroutine periodically drops expired records; Close stops it.
func NewStore(sweepInterval time.Duration) *Store {
	s := &Store{
		Clients:       &ClientStore{clients: make(map[string]*oauth2.Client)},
		Codes:         &CodeStore{codes: make(map[string]*oauth2.AuthorizationCode)},
		AccessTokens:  &AccessTokenStore{tokens: make(map[string]*oauth2.AccessToken)},
		RefreshTokens: &RefreshTokenStore{tokens: make(map[string]*oauth2.RefreshToken)},
		Factors:       &FactorStore{factors: make(map[string]*mfa.Factor)},
		Challenges:    &ChallengeStore{challenges: make(map[string]*mfa.Challenge)},
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.cleanupLoop(sweepInterval)
	} else {
		close(s.cleanupDone)
	}

	return s
}

// Close stops the sweeper and waits for it to finish
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
}

func (s *Store) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			s.Codes.DeleteExpired(ctx)         //nolint:errcheck
			s.AccessTokens.DeleteExpired(ctx)  //nolint:errcheck
			s.RefreshTokens.DeleteExpired(ctx) //nolint:errcheck
			s.Challenges.DeleteExpired(ctx)    //nolint:errcheck
		case <-s.stopCleanup:
			return
		}
	}
}

// ClientStore implements oauth2.ClientRepository
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*oauth2.Client
}

// Create implements oauth2.ClientRepository
func (s *ClientStore) Create(_ context.Context, client *oauth2.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client.ClientID]; ok {
		return oauth2.ErrClientAlreadyExists
	}
	s.clients[client.ClientID] = copyClient(client)
	return nil
}

// GetByClientID implements oauth2.ClientRepository
func (s *ClientStore) GetByClientID(_ context.Context, clientID string) (*oauth2.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, oauth2.ErrClientNotFound
	}
	return copyClient(client), nil
}

// Delete implements oauth2.ClientRepository
func (s *ClientStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return oauth2.ErrClientNotFound
	}
	delete(s.clients, clientID)
	return nil
}

// CodeStore implements oauth2.AuthorizationCodeRepository
type CodeStore struct {
	mu    sync.RWMutex
	codes map[string]*oauth2.AuthorizationCode
}

// Create implements oauth2.AuthorizationCodeRepository
func (s *CodeStore) Create(_ context.Context, code *oauth2.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = copyCode(code)
	return nil
}

// Consume implements the atomic fresh -> consumed transition. The write
// lock spans the check and the flip, so exactly one caller gets the fresh
// record; later callers get the record back with ErrCodeAlreadyUsed.
func (s *CodeStore) Consume(_ context.Context, code string) (*oauth2.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[code]
	if !ok {
		return nil, oauth2.ErrCodeNotFound
	}
	if rec.IsUsed {
		return copyCode(rec), oauth2.ErrCodeAlreadyUsed
	}
	now := time.Now()
	rec.IsUsed = true
	rec.UsedAt = &now
	return copyCode(rec), nil
}

// DeleteExpired implements oauth2.AuthorizationCodeRepository
func (s *CodeStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for k, rec := range s.codes {
		if now.After(rec.ExpiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(s.codes, k)
	}
	return nil
}

// AccessTokenStore implements oauth2.AccessTokenRepository
type AccessTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.AccessToken
}

// Create implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) Create(_ context.Context, token *oauth2.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.TokenHash] = copyAccessToken(token)
	return nil
}

// GetByHash implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) GetByHash(_ context.Context, tokenHash string) (*oauth2.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, oauth2.ErrTokenNotFound
	}
	return copyAccessToken(token), nil
}

// Revoke implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return oauth2.ErrTokenNotFound
	}
	revoke(&token.IsRevoked, &token.RevokedAt)
	return nil
}

// RevokeByCodeID implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) RevokeByCodeID(_ context.Context, codeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.CodeID == codeID {
			revoke(&token.IsRevoked, &token.RevokedAt)
		}
	}
	return nil
}

// RevokeByChainID implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) RevokeByChainID(_ context.Context, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.ChainID != "" && token.ChainID == chainID {
			revoke(&token.IsRevoked, &token.RevokedAt)
		}
	}
	return nil
}

// DeleteExpired implements oauth2.AccessTokenRepository
func (s *AccessTokenStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for k, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(s.tokens, k)
	}
	return nil
}

// RefreshTokenStore implements oauth2.RefreshTokenRepository
type RefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.RefreshToken
}

// Create implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) Create(_ context.Context, token *oauth2.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.TokenHash] = copyRefreshToken(token)
	return nil
}

// GetByHash implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) GetByHash(_ context.Context, tokenHash string) (*oauth2.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, oauth2.ErrTokenNotFound
	}
	return copyRefreshToken(token), nil
}

// Replace implements the rotation check-and-set under the write lock
func (s *RefreshTokenStore) Replace(_ context.Context, tokenHash, successorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return oauth2.ErrTokenNotFound
	}
	if token.IsRevoked {
		return oauth2.ErrTokenRevoked
	}
	if token.ReplacedBy != nil {
		return oauth2.ErrTokenReplaced
	}
	id := successorID
	token.ReplacedBy = &id
	return nil
}

// Revoke implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return oauth2.ErrTokenNotFound
	}
	revoke(&token.IsRevoked, &token.RevokedAt)
	return nil
}

// RevokeChain implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) RevokeChain(_ context.Context, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.ChainID == chainID {
			revoke(&token.IsRevoked, &token.RevokedAt)
		}
	}
	return nil
}

// RevokeByCodeID implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) RevokeByCodeID(_ context.Context, codeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.CodeID == codeID {
			revoke(&token.IsRevoked, &token.RevokedAt)
		}
	}
	return nil
}

// DeleteExpired implements oauth2.RefreshTokenRepository
func (s *RefreshTokenStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for k, token := range s.tokens {
		if now.After(token.AbsoluteExpiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(s.tokens, k)
	}
	return nil
}

// FactorStore implements mfa.FactorRepository
type FactorStore struct {
	mu      sync.RWMutex
	factors map[string]*mfa.Factor
}

// Create implements mfa.FactorRepository
func (s *FactorStore) Create(_ context.Context, factor *mfa.Factor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factors[factor.ID] = copyFactor(factor)
	return nil
}

// GetByID implements mfa.FactorRepository
func (s *FactorStore) GetByID(_ context.Context, id string) (*mfa.Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	factor, ok := s.factors[id]
	if !ok {
		return nil, mfa.ErrFactorNotFound
	}
	return copyFactor(factor), nil
}

// GetBySubject implements mfa.FactorRepository
func (s *FactorStore) GetBySubject(_ context.Context, subject string) ([]*mfa.Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mfa.Factor
	for _, factor := range s.factors {
		if factor.Subject == subject {
			out = append(out, copyFactor(factor))
		}
	}
	return out, nil
}

// Update implements mfa.FactorRepository
func (s *FactorStore) Update(_ context.Context, factor *mfa.Factor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.factors[factor.ID]; !ok {
		return mfa.ErrFactorNotFound
	}
	s.factors[factor.ID] = copyFactor(factor)
	return nil
}

// ConsumeCodeHash removes one backup-code hash under the write lock, so a
// code spends for exactly one of any racing verifications.
func (s *FactorStore) ConsumeCodeHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	factor, ok := s.factors[id]
	if !ok {
		return mfa.ErrFactorNotFound
	}
	for i, h := range factor.CodeHashes {
		if h == hash {
			factor.CodeHashes = append(factor.CodeHashes[:i], factor.CodeHashes[i+1:]...)
			return nil
		}
	}
	return mfa.ErrCodeSpent
}

// Delete implements mfa.FactorRepository
func (s *FactorStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.factors[id]; !ok {
		return mfa.ErrFactorNotFound
	}
	delete(s.factors, id)
	return nil
}

// ChallengeStore implements mfa.ChallengeRepository
type ChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]*mfa.Challenge
}

// Create implements mfa.ChallengeRepository
func (s *ChallengeStore) Create(_ context.Context, challenge *mfa.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.ID] = copyChallenge(challenge)
	return nil
}

// GetByID implements mfa.ChallengeRepository
func (s *ChallengeStore) GetByID(_ context.Context, id string) (*mfa.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenge, ok := s.challenges[id]
	if !ok {
		return nil, mfa.ErrChallengeNotFound
	}
	return copyChallenge(challenge), nil
}

// IncrementAttempts bumps the counter under the write lock
func (s *ChallengeStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[id]
	if !ok {
		return 0, mfa.ErrChallengeNotFound
	}
	challenge.Attempts++
	return challenge.Attempts, nil
}

// Consume removes the challenge under the write lock; exactly one racing
// caller finds it present.
func (s *ChallengeStore) Consume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[id]; !ok {
		return mfa.ErrChallengeNotFound
	}
	delete(s.challenges, id)
	return nil
}

// Delete implements mfa.ChallengeRepository
func (s *ChallengeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}

// DeleteExpired implements mfa.ChallengeRepository
func (s *ChallengeStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for k, challenge := range s.challenges {
		if now.After(challenge.ExpiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(s.challenges, k)
	}
	return nil
}

func copyClient(c *oauth2.Client) *oauth2.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.AllowedScopes = append([]string(nil), c.AllowedScopes...)
	out.AllowedGrants = append([]string(nil), c.AllowedGrants...)
	return &out
}

func copyCode(c *oauth2.AuthorizationCode) *oauth2.AuthorizationCode {
	out := *c
	if c.UsedAt != nil {
		t := *c.UsedAt
		out.UsedAt = &t
	}
	return &out
}

func copyAccessToken(t *oauth2.AccessToken) *oauth2.AccessToken {
	out := *t
	if t.RevokedAt != nil {
		rt := *t.RevokedAt
		out.RevokedAt = &rt
	}
	return &out
}

func copyRefreshToken(t *oauth2.RefreshToken) *oauth2.RefreshToken {
	out := *t
	if t.ReplacedBy != nil {
		id := *t.ReplacedBy
		out.ReplacedBy = &id
	}
	if t.RevokedAt != nil {
		rt := *t.RevokedAt
		out.RevokedAt = &rt
	}
	return &out
}

func copyFactor(f *mfa.Factor) *mfa.Factor {
	out := *f
	out.CodeHashes = append([]string(nil), f.CodeHashes...)
	if f.LastUsedAt != nil {
		t := *f.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

func copyChallenge(c *mfa.Challenge) *mfa.Challenge {
	out := *c
	return &out
}

func revoke(flag *bool, at **time.Time) {
	if *flag {
		return
	}
	*flag = true
	now := time.Now()
	*at = &now
}
