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

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/authgrid/authgrid/internal/mfa"
	"github.com/authgrid/authgrid/internal/oauth2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(0)
	t.Cleanup(s.Close)
	return s
}

func TestCodeStore_ConsumeExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := &oauth2.AuthorizationCode{
		ID:        "code-1",
		Code:      "raw-code",
		ClientID:  "client-1",
		Subject:   "user-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := s.Codes.Create(ctx, code); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			rec, err := s.Codes.Consume(ctx, "raw-code")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, oauth2.ErrCodeAlreadyUsed):
				if rec == nil || rec.Subject != "user-1" {
					t.Error("losers must still receive the stored record")
				}
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
	if losers != racers-1 {
		t.Errorf("expected %d losers, got %d", racers-1, losers)
	}
}

func TestCodeStore_ConsumeUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Codes.Consume(context.Background(), "missing"); !errors.Is(err, oauth2.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestRefreshTokenStore_ReplaceExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := &oauth2.RefreshToken{
		ID:                "rt-1",
		TokenHash:         "hash-1",
		ClientID:          "client-1",
		Subject:           "user-1",
		ChainID:           "chain-1",
		IssuedAt:          time.Now(),
		AbsoluteExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.RefreshTokens.Create(ctx, token); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			err := s.RefreshTokens.Replace(ctx, "hash-1", "successor-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, oauth2.ErrTokenReplaced):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}

	got, err := s.RefreshTokens.GetByHash(ctx, "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplacedBy == nil || *got.ReplacedBy != "successor-1" {
		t.Error("expected ReplacedBy to point at the successor")
	}
}

func TestRefreshTokenStore_ReplaceRevoked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := &oauth2.RefreshToken{
		ID:                "rt-1",
		TokenHash:         "hash-1",
		ChainID:           "chain-1",
		AbsoluteExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.RefreshTokens.Create(ctx, token); err != nil {
		t.Fatal(err)
	}
	if err := s.RefreshTokens.Revoke(ctx, "hash-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RefreshTokens.Replace(ctx, "hash-1", "successor-1"); !errors.Is(err, oauth2.ErrTokenRevoked) {
		t.Errorf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRevokeScans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(id, hash, codeID, chainID string) {
		t.Helper()
		err := s.AccessTokens.Create(ctx, &oauth2.AccessToken{
			ID: id, TokenHash: hash, CodeID: codeID, ChainID: chainID,
			ExpiresAt: time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	mk("at-1", "h1", "code-a", "chain-a")
	mk("at-2", "h2", "code-a", "chain-b")
	mk("at-3", "h3", "code-b", "")

	if err := s.AccessTokens.RevokeByCodeID(ctx, "code-a"); err != nil {
		t.Fatal(err)
	}
	for hash, want := range map[string]bool{"h1": true, "h2": true, "h3": false} {
		got, err := s.AccessTokens.GetByHash(ctx, hash)
		if err != nil {
			t.Fatal(err)
		}
		if got.IsRevoked != want {
			t.Errorf("token %s: revoked = %v, want %v", hash, got.IsRevoked, want)
		}
	}

	// An empty chain id must never match tokens without a chain.
	if err := s.AccessTokens.RevokeByChainID(ctx, ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.AccessTokens.GetByHash(ctx, "h3")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsRevoked {
		t.Error("chainless token must survive RevokeByChainID(\"\")")
	}
}

func TestIncrementAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	challenge := &mfa.Challenge{
		ID:          "ch-1",
		Subject:     "user-1",
		Kind:        mfa.KindSMS,
		ExpiresAt:   time.Now().Add(time.Minute),
		MaxAttempts: 3,
	}
	if err := s.Challenges.Create(ctx, challenge); err != nil {
		t.Fatal(err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.Challenges.IncrementAttempts(ctx, "ch-1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("attempt %d: got %d", want, got)
		}
	}

	if _, err := s.Challenges.IncrementAttempts(ctx, "missing"); !errors.Is(err, mfa.ErrChallengeNotFound) {
		t.Errorf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeStore_ConsumeExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	challenge := &mfa.Challenge{
		ID:          "ch-1",
		Subject:     "user-1",
		Kind:        mfa.KindTOTP,
		ExpiresAt:   time.Now().Add(time.Minute),
		MaxAttempts: 3,
	}
	if err := s.Challenges.Create(ctx, challenge); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			err := s.Challenges.Consume(ctx, "ch-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, mfa.ErrChallengeNotFound):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
	if _, err := s.Challenges.GetByID(ctx, "ch-1"); !errors.Is(err, mfa.ErrChallengeNotFound) {
		t.Error("expected the consumed challenge to be gone")
	}
}

func TestFactorStore_ConsumeCodeHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	factor := &mfa.Factor{
		ID:         "f-1",
		Subject:    "user-1",
		Kind:       mfa.KindBackupCode,
		CodeHashes: []string{"a", "b"},
	}
	if err := s.Factors.Create(ctx, factor); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			err := s.Factors.ConsumeCodeHash(ctx, "f-1", "a")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, mfa.ErrCodeSpent):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}

	got, err := s.Factors.GetByID(ctx, "f-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.CodeHashes) != 1 || got.CodeHashes[0] != "b" {
		t.Errorf("expected only the untouched hash to remain, have %v", got.CodeHashes)
	}

	if err := s.Factors.ConsumeCodeHash(ctx, "missing", "b"); !errors.Is(err, mfa.ErrFactorNotFound) {
		t.Errorf("expected ErrFactorNotFound, got %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	s.Codes.Create(ctx, &oauth2.AuthorizationCode{Code: "dead", ExpiresAt: past})            //nolint:errcheck
	s.Codes.Create(ctx, &oauth2.AuthorizationCode{Code: "live", ExpiresAt: future})          //nolint:errcheck
	s.AccessTokens.Create(ctx, &oauth2.AccessToken{TokenHash: "dead", ExpiresAt: past})      //nolint:errcheck
	s.AccessTokens.Create(ctx, &oauth2.AccessToken{TokenHash: "live", ExpiresAt: future})    //nolint:errcheck
	s.RefreshTokens.Create(ctx, &oauth2.RefreshToken{TokenHash: "dead", AbsoluteExpiresAt: past})   //nolint:errcheck
	s.RefreshTokens.Create(ctx, &oauth2.RefreshToken{TokenHash: "live", AbsoluteExpiresAt: future}) //nolint:errcheck

	if err := s.Codes.DeleteExpired(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.AccessTokens.DeleteExpired(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.RefreshTokens.DeleteExpired(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Codes.Consume(ctx, "dead"); !errors.Is(err, oauth2.ErrCodeNotFound) {
		t.Error("expected expired code to be gone")
	}
	if _, err := s.Codes.Consume(ctx, "live"); err != nil {
		t.Error("expected live code to survive")
	}
	if _, err := s.AccessTokens.GetByHash(ctx, "dead"); !errors.Is(err, oauth2.ErrTokenNotFound) {
		t.Error("expected expired access token to be gone")
	}
	if _, err := s.RefreshTokens.GetByHash(ctx, "live"); err != nil {
		t.Error("expected live refresh token to survive")
	}
}

func TestDefensiveCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := &oauth2.Client{
		ClientID:      "client-1",
		RedirectURIs:  []string{"https://app.example/callback"},
		AllowedScopes: []string{"openid"},
	}
	if err := s.Clients.Create(ctx, client); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice after Create must not reach the store.
	client.RedirectURIs[0] = "https://evil.example"

	got, err := s.Clients.GetByClientID(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RedirectURIs[0] != "https://app.example/callback" {
		t.Error("store leaked a shared slice on Create")
	}

	// Mutating a fetched record must not reach the store either.
	got.AllowedScopes[0] = "admin"
	again, err := s.Clients.GetByClientID(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.AllowedScopes[0] != "openid" {
		t.Error("store leaked a shared slice on Get")
	}
}

func TestFactorStore_UpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	factor := &mfa.Factor{
		ID:         "f-1",
		Subject:    "user-1",
		Kind:       mfa.KindBackupCode,
		CodeHashes: []string{"a", "b", "c"},
	}
	if err := s.Factors.Create(ctx, factor); err != nil {
		t.Fatal(err)
	}

	got, err := s.Factors.GetByID(ctx, "f-1")
	if err != nil {
		t.Fatal(err)
	}
	got.CodeHashes = got.CodeHashes[:1]
	got.Verified = true
	if err := s.Factors.Update(ctx, got); err != nil {
		t.Fatal(err)
	}

	again, err := s.Factors.GetByID(ctx, "f-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.CodeHashes) != 1 || !again.Verified {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := s.Factors.Update(ctx, &mfa.Factor{ID: "missing"}); !errors.Is(err, mfa.ErrFactorNotFound) {
		t.Errorf("expected ErrFactorNotFound, got %v", err)
	}
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	s.Close()
	s.Close()
}
