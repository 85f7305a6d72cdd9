// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogMailer logs every send via logrus instead of calling the out-of-scope
// Loops API.
type LogMailer struct{}

// NewLogMailer builds a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(_ context.Context, template, to string, data map[string]string) error {
	logrus.WithFields(logrus.Fields{
		"template": template,
		"to":       to,
		"data":     data,
	}).Info("mailer: send")
	return nil
}
