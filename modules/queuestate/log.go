// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package queuestate

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogStore is a Store that keeps rows in memory and logs every update via
// logrus, standing in for the out-of-scope Airtable backend (spec.md §1).
type LogStore struct {
	mu   sync.Mutex
	rows map[string]*Row
}

// NewLogStore builds an empty LogStore.
func NewLogStore() *LogStore {
	return &LogStore{rows: map[string]*Row{}}
}

func (s *LogStore) Get(_ context.Context, userID string) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return nil, fmt.Errorf("queuestate: no row for user %q", userID)
	}
	cp := *row
	return &cp, nil
}

func (s *LogStore) Update(_ context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.rows[row.ID] = &cp
	logrus.WithFields(logrus.Fields{
		"user_id":    row.ID,
		"status":     row.Status,
		"repl_count": row.ReplCount,
		"file_count": row.FileCount,
	}).Info("queuestate: row updated")
	return nil
}
