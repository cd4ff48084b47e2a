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
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// generateNumericCode returns a uniformly random n-digit code
func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// backupCodeAlphabet avoids ambiguous characters (0/O, 1/I/L)
const backupCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// generateBackupCode returns a code like "X7KQ-2MNP"
func generateBackupCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// hashCode hashes a one-time code for storage. The codes are high-entropy
// or attempt-bounded one-shots, not passwords, so SHA-256 is the right
// tradeoff against verification latency.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// codeMatches compares a candidate against a stored hash in constant time
func codeMatches(code, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(storedHash)) == 1
}

// maskDestination hides most of a delivery destination for challenge hints:
// "+15551234567" becomes "***-***-4567", "jane@example.com" becomes
// "j***@example.com".
func maskDestination(destination string) string {
	if at := strings.IndexByte(destination, '@'); at > 0 {
		return destination[:1] + "***" + destination[at:]
	}
	if len(destination) >= 4 {
		return "***-***-" + destination[len(destination)-4:]
	}
	return "***"
}
