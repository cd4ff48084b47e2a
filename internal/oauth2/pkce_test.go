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
	"strings"
	"testing"
)

// Test vector from RFC 7636 Appendix B.
const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestVerifyPKCE_S256(t *testing.T) {
	if !VerifyPKCE(rfcVerifier, rfcChallenge, PKCEMethodS256) {
		t.Error("expected RFC 7636 vector to verify")
	}
	if VerifyPKCE(rfcVerifier+"x", rfcChallenge, PKCEMethodS256) {
		t.Error("expected modified verifier to fail")
	}
	if VerifyPKCE(rfcVerifier, rfcChallenge, PKCEMethodPlain) {
		t.Error("expected S256 challenge to fail under plain")
	}
}

func TestVerifyPKCE_Plain(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	if !VerifyPKCE(verifier, verifier, PKCEMethodPlain) {
		t.Error("expected plain equality to verify")
	}
	if VerifyPKCE(verifier, strings.Repeat("b", 43), PKCEMethodPlain) {
		t.Error("expected mismatched plain verifier to fail")
	}
}

func TestVerifyPKCE_UnknownMethod(t *testing.T) {
	if VerifyPKCE(rfcVerifier, rfcChallenge, "S512") {
		t.Error("expected unknown method to fail")
	}
}

func TestValidCodeVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		want     bool
	}{
		{"rfc vector", rfcVerifier, true},
		{"min length", strings.Repeat("a", 43), true},
		{"max length", strings.Repeat("a", 128), true},
		{"too short", strings.Repeat("a", 42), false},
		{"too long", strings.Repeat("a", 129), false},
		{"unreserved punctuation", strings.Repeat("a", 40) + "-._~", true},
		{"illegal character", strings.Repeat("a", 42) + "!", false},
		{"space", strings.Repeat("a", 42) + " ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCodeVerifier(tt.verifier); got != tt.want {
				t.Errorf("ValidCodeVerifier(%q) = %v, want %v", tt.verifier, got, tt.want)
			}
		})
	}
}
