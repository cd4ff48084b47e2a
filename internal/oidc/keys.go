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

package oidc

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms
const (
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
)

var ErrNoActiveKey = errors.New("no active signing key")

// SigningKey is one keypair in the rotation schedule. The key signs while
// now is within [NotBefore, NotAfter) and remains published for
// verification until NotAfter plus the overlap window.
type SigningKey struct {
	KID       string
	Alg       string
	Signer    crypto.Signer
	NotBefore time.Time
	NotAfter  time.Time
}

// StoredKey is the persisted form of a signing key (PKCS#8 PEM)
type StoredKey struct {
	KID           string
	Alg           string
	PrivateKeyPEM []byte
	NotBefore     time.Time
	NotAfter      time.Time
}

// KeyPersister stores signing keys across restarts so kids stay stable.
// Implemented by the postgres Store; nil disables persistence.
type KeyPersister interface {
	Save(ctx context.Context, key *StoredKey) error
	LoadAll(ctx context.Context) ([]*StoredKey, error)
}

// KeyManager owns the signing keys: generation, rotation with an overlap
// window, JWKS publication and kid lookup for verification.
type KeyManager struct {
	mu             sync.RWMutex
	alg            string
	rotationPeriod time.Duration
	overlapWindow  time.Duration
	keys           []*SigningKey // newest first
	persist        KeyPersister

	now func() time.Time
}

// NewKeyManager loads persisted keys (if a persister is wired) and ensures
// an active key exists.
func NewKeyManager(ctx context.Context, alg string, rotationPeriod, overlapWindow time.Duration, persist KeyPersister) (*KeyManager, error) {
	if alg != AlgRS256 && alg != AlgES256 {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	if rotationPeriod <= 0 {
		rotationPeriod = 30 * 24 * time.Hour
	}
	if overlapWindow <= 0 {
		overlapWindow = 24 * time.Hour
	}

	m := &KeyManager{
		alg:            alg,
		rotationPeriod: rotationPeriod,
		overlapWindow:  overlapWindow,
		persist:        persist,
		now:            time.Now,
	}

	if persist != nil {
		stored, err := persist.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
		for _, sk := range stored {
			key, err := parseStoredKey(sk)
			if err != nil {
				return nil, fmt.Errorf("failed to parse stored key %s: %w", sk.KID, err)
			}
			m.keys = append(m.keys, key)
		}
		sortNewestFirst(m.keys)
	}

	if m.active() == nil {
		if err := m.Rotate(ctx); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Alg returns the configured signing algorithm
func (m *KeyManager) Alg() string {
	return m.alg
}

// SigningMethod returns the jwt signing method for the configured algorithm
func (m *KeyManager) SigningMethod() jwt.SigningMethod {
	if m.alg == AlgES256 {
		return jwt.SigningMethodES256
	}
	return jwt.SigningMethodRS256
}

// Active returns the current signing key
func (m *KeyManager) Active() (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k := m.active(); k != nil {
		return k, nil
	}
	return nil, ErrNoActiveKey
}

func (m *KeyManager) active() *SigningKey {
	now := m.now()
	for _, k := range m.keys {
		if !now.Before(k.NotBefore) && now.Before(k.NotAfter) {
			return k
		}
	}
	return nil
}

// ByKID returns the public key for a kid while it is still verifiable
// (within the overlap window past its signing end).
func (m *KeyManager) ByKID(kid string) (crypto.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	for _, k := range m.keys {
		if k.KID == kid && now.Before(k.NotAfter.Add(m.overlapWindow)) {
			return k.Signer.Public(), true
		}
	}
	return nil, false
}

// Keyfunc resolves verification keys for jwt.Parse
func (m *KeyManager) Keyfunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != m.alg {
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	pub, ok := m.ByKID(kid)
	if !ok {
		return nil, fmt.Errorf("unknown kid %s", kid)
	}
	return pub, nil
}

// Rotate generates a fresh keypair and makes it the active signing key.
// The previous key keeps verifying until its overlap window closes.
func (m *KeyManager) Rotate(ctx context.Context) error {
	signer, err := generateSigner(m.alg)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	kid, err := keyID(signer.Public())
	if err != nil {
		return fmt.Errorf("failed to derive kid: %w", err)
	}

	now := m.now()
	key := &SigningKey{
		KID:       kid,
		Alg:       m.alg,
		Signer:    signer,
		NotBefore: now,
		NotAfter:  now.Add(m.rotationPeriod),
	}

	m.mu.Lock()
	// End the signing window of the previous active key at the handover.
	if prev := m.active(); prev != nil {
		prev.NotAfter = now
	}
	m.keys = append([]*SigningKey{key}, m.keys...)
	m.mu.Unlock()

	if m.persist != nil {
		stored, err := storedKey(key)
		if err != nil {
			return fmt.Errorf("failed to encode signing key: %w", err)
		}
		if err := m.persist.Save(ctx, stored); err != nil {
			return fmt.Errorf("failed to persist signing key: %w", err)
		}
	}

	return nil
}

// MaybeRotate rotates when the active key's signing window has ended and
// drops keys whose overlap window has closed. Called from the lifecycle
// sweeper.
func (m *KeyManager) MaybeRotate(ctx context.Context) error {
	m.mu.RLock()
	needs := m.active() == nil
	m.mu.RUnlock()

	if needs {
		if err := m.Rotate(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	now := m.now()
	kept := m.keys[:0]
	for _, k := range m.keys {
		if now.Before(k.NotAfter.Add(m.overlapWindow)) {
			kept = append(kept, k)
		}
	}
	m.keys = kept
	m.mu.Unlock()

	return nil
}

// JWK is one key in the published key set; private parameters never appear
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the RFC 7517 key set document
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public parts of every currently verifiable key
func (m *KeyManager) JWKS() *JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := &JWKS{Keys: []JWK{}}
	now := m.now()
	for _, k := range m.keys {
		if !now.Before(k.NotAfter.Add(m.overlapWindow)) {
			continue
		}
		jwk := JWK{Use: "sig", Alg: k.Alg, Kid: k.KID}
		switch pub := k.Signer.Public().(type) {
		case *rsa.PublicKey:
			jwk.Kty = "RSA"
			jwk.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
			jwk.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
		case *ecdsa.PublicKey:
			jwk.Kty = "EC"
			jwk.Crv = "P-256"
			jwk.X = base64.RawURLEncoding.EncodeToString(padCoord(pub.X, pub.Curve))
			jwk.Y = base64.RawURLEncoding.EncodeToString(padCoord(pub.Y, pub.Curve))
		default:
			continue
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set
}

func generateSigner(alg string) (crypto.Signer, error) {
	if alg == AlgES256 {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	return rsa.GenerateKey(rand.Reader, 2048)
}

// keyID derives a stable kid from the SHA-256 of the PKIX-encoded public key
func keyID(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}

func storedKey(k *SigningKey) (*StoredKey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Signer)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return &StoredKey{
		KID:           k.KID,
		Alg:           k.Alg,
		PrivateKeyPEM: pemBytes,
		NotBefore:     k.NotBefore,
		NotAfter:      k.NotAfter,
	}, nil
}

func parseStoredKey(sk *StoredKey) (*SigningKey, error) {
	block, _ := pem.Decode(sk.PrivateKeyPEM)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, errors.New("stored key does not implement crypto.Signer")
	}
	return &SigningKey{
		KID:       sk.KID,
		Alg:       sk.Alg,
		Signer:    signer,
		NotBefore: sk.NotBefore,
		NotAfter:  sk.NotAfter,
	}, nil
}

func sortNewestFirst(keys []*SigningKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].NotBefore.After(keys[j-1].NotBefore); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func padCoord(v *big.Int, curve elliptic.Curve) []byte {
	size := (curve.Params().BitSize + 7) / 8
	b := v.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
