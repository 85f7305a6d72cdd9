// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package queuestate is the collaborator interface for the persistent
// per-user state row (spec.md §6). The real Airtable-backed
// implementation is out of scope (spec.md §1); this package ships only
// the interface plus a log-backed stand-in for tests and the `serve`
// supervisor stub.
package queuestate

import (
	"context"
	"time"
)

// ProcessState is one value of spec.md §6's ProcessStates enum.
type ProcessState string

const (
	Registered               ProcessState = "Registered"
	CollectingRepls          ProcessState = "CollectingRepls"
	Collected                ProcessState = "Collected"
	WaitingInR2              ProcessState = "WaitingInR2"
	R2LinkEmailSent          ProcessState = "R2LinkEmailSent"
	DownloadedRepls          ProcessState = "DownloadedRepls"
	PartiallyDownloadedRepls ProcessState = "PartiallyDownloadedRepls"
	Errored                  ProcessState = "Errored"
	ErroredMain              ProcessState = "ErroredMain"
	ErroredR2                ProcessState = "ErroredR2"
	NoRepls                  ProcessState = "NoRepls"
	TokenExpired             ProcessState = "TokenExpired"
)

// Row is one user's persistent-state record, spec.md §6's column list.
type Row struct {
	ID         string
	Username   string
	Token      string
	Email      string
	Status     ProcessState
	R2Link     string
	FailedIDs  []string
	StartedAt  time.Time
	FinishedAt time.Time
	ReplCount  int
	FileCount  int
}

// Store is the persistent-state collaborator contract.
type Store interface {
	Get(ctx context.Context, userID string) (*Row, error)
	Update(ctx context.Context, row *Row) error
}
