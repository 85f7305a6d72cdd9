// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package mailer is the collaborator interface for the email-provider
// notification step (spec.md §6). The real Loops-backed implementation
// is out of scope (spec.md §1); this package ships only the interface
// plus a log-backed stand-in.
package mailer

import "context"

// Mailer sends a templated notification to one recipient.
type Mailer interface {
	Send(ctx context.Context, template, to string, data map[string]string) error
}
