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
	"log/slog"
)

// DevNotifier logs codes instead of delivering them. Development only:
// the code appears at debug level so local flows can be completed without
// an SMS or email provider behind the server.
type DevNotifier struct {
	logger *slog.Logger
}

// NewDevNotifier creates a logging notifier
func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

// Send implements Notifier
func (n *DevNotifier) Send(ctx context.Context, kind Kind, destination, code string) error {
	n.logger.DebugContext(ctx, "mfa code delivery (dev notifier)",
		slog.String("kind", string(kind)),
		slog.String("destination", maskDestination(destination)),
		slog.String("code", code),
	)
	return nil
}
