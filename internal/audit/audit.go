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

// Package audit records security-relevant events. Events are structured and
// never carry secret material; metadata keys that look like secrets are
// redacted before they reach the log.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeClientRegistered = "client.registered"
	TypeCodeIssued       = "code.issued"
	TypeCodeReplayed     = "code.replayed"
	TypeTokenIssued      = "token.issued"
	TypeTokenRevoked     = "token.revoked"
	TypeTokenReplayed    = "token.replayed"
	TypeMFAEnrolled      = "mfa.enrolled"
	TypeMFAChallenged    = "mfa.challenged"
	TypeMFAVerified      = "mfa.verified"
	TypeMFAFailed        = "mfa.failed"
	TypeMFALocked        = "mfa.locked"
)

// Event is one audit record
type Event struct {
	Type     string
	Subject  string
	ClientID string
	IP       string
	Metadata map[string]any
	Time     time.Time
}

// Logger records audit events
type Logger interface {
	Record(ctx context.Context, event Event)
}

// SlogLogger writes audit events through slog with a fixed "audit" marker
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger backed by slog
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Record implements Logger
func (l *SlogLogger) Record(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_event", event.Type),
		slog.Time("event_time", event.Time),
	}
	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", event.Subject))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	for k, v := range event.Metadata {
		if isSecret(k) {
			attrs = append(attrs, slog.String(k, "[REDACTED]"))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

func isSecret(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "secret") ||
		strings.Contains(k, "password") ||
		strings.Contains(k, "token") ||
		strings.Contains(k, "code_verifier") ||
		strings.Contains(k, "otp")
}
