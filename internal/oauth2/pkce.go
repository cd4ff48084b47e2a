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

package oauth2

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636 Section 4.2)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// ValidPKCEMethod reports whether the method is one we support
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodPlain || method == PKCEMethodS256
}

// validVerifierLength bounds per RFC 7636 Section 4.1
const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// ValidCodeVerifier checks the verifier against the RFC 7636 grammar:
// 43-128 characters from the unreserved set [A-Za-z0-9-._~].
func ValidCodeVerifier(verifier string) bool {
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// VerifyPKCE checks a code_verifier against the stored challenge.
// For S256 the comparison is BASE64URL-nopad(SHA256(verifier)) == challenge;
// for plain it is direct equality. Both comparisons are constant time.
func VerifyPKCE(verifier, challenge, method string) bool {
	if !ValidCodeVerifier(verifier) {
		return false
	}

	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
