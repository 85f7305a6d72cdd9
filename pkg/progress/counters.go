// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package progress tracks per-job repl outcomes and renders them both as
// a JSON snapshot for the object store (spec.md §4.10) and as live
// multi-bar terminal output (grounded on the teacher's pkg/progress,
// swapped from a single progressbar.ProgressBar to mpb/v8's multi-bar
// container, one bar per repl).
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hackclub/replit-lifeboat/modules/objectstore"
	"github.com/hackclub/replit-lifeboat/modules/trace"
)

// Counters tallies repl outcomes across a whole takeout job.
type Counters struct {
	mu sync.Mutex
	CountersSnapshot
}

// CountersSnapshot is the JSON-serializable, lock-free view of Counters
// returned by Snapshot.
type CountersSnapshot struct {
	Total       int `json:"total"`
	Successful  int `json:"successful"`
	NoHistory   int `json:"no_history"`
	FailedOther int `json:"failed_other"`
	TimedOut    int `json:"timed_out"`
}

// Outcome is one repl's terminal state, matching the orchestrator's
// status enum (spec.md §4.9/§6).
type Outcome int

const (
	OutcomeFull Outcome = iota
	OutcomeNoHistory
	OutcomeFailed
	OutcomeTimedOut
)

// Record tallies one repl's outcome.
func (c *Counters) Record(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Total++
	switch o {
	case OutcomeFull:
		c.Successful++
	case OutcomeNoHistory:
		c.NoHistory++
	case OutcomeFailed:
		c.FailedOther++
	case OutcomeTimedOut:
		c.TimedOut++
	}
}

// Snapshot returns a lock-free copy safe to marshal.
func (c *Counters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CountersSnapshot
}

// Publish marshals the current counters and puts them to
// progress/<userID> in the object store. Failures are logged, never
// fatal, per spec.md §4.10.
func (c *Counters) Publish(ctx context.Context, store objectstore.Store, userID string) {
	snap := c.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		trace.Errorf("progress: marshal counters for %q: %v", userID, err)
		return
	}
	key := fmt.Sprintf("progress/%s", userID)
	if err := store.Put(ctx, key, data); err != nil {
		trace.Errorf("progress: publish %q: %v", key, err)
	}
}
