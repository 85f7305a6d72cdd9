// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hackclub/replit-lifeboat/modules/mailer"
	"github.com/hackclub/replit-lifeboat/modules/objectstore"
	"github.com/hackclub/replit-lifeboat/modules/queuestate"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"github.com/hackclub/replit-lifeboat/pkg/zipper"
)

// finalizeUser runs the once-per-user step spec.md §4.10 describes: once
// every repl is in, zip working_dir to a single DEFLATE archive, multipart
// it up to the object store, presign a 7-day download link, and email it.
// Failure and no-repls paths skip straight to a distinct notification
// (spec.md §7's user-visible behavior table).
func finalizeUser(ctx context.Context, store objectstore.Store, stateStore queuestate.Store, mailClient mailer.Mailer, spec *jobSpec) error {
	username := spec.Repl.Username
	failedIDs := spec.FailedReplIDs
	replCount := spec.ReplCount

	if replCount <= 0 {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.NoRepls, FinishedAt: time.Now(),
		}, "no-repls", nil)
	}

	if len(failedIDs) >= replCount {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.Errored, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "all-repls-failed", map[string]string{"failed_count": strconv.Itoa(len(failedIDs))})
	}

	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("takeout-%s.zip", username))
	defer os.Remove(archivePath)

	if err := zipper.Archive(spec.WorkingDir, archivePath); err != nil {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.ErroredR2, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "archive-failed", nil)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.ErroredR2, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "archive-failed", nil)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.ErroredR2, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "archive-failed", nil)
	}
	defer f.Close()

	key := fmt.Sprintf("archives/%s.zip", username)
	if err := store.MultipartUpload(ctx, key, f, info.Size()); err != nil {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.ErroredR2, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "upload-failed", nil)
	}

	disposition := fmt.Sprintf(`attachment; filename="%s.zip"`, username)
	link, err := store.PresignGet(ctx, key, objectstore.DefaultPresignTTL, disposition)
	if err != nil {
		return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
			ID: username, Username: username, Email: spec.UserEmail,
			Status: queuestate.ErroredR2, FailedIDs: failedIDs, ReplCount: replCount,
			FinishedAt: time.Now(),
		}, "upload-failed", nil)
	}

	status := queuestate.DownloadedRepls
	template := "r2-ready"
	if len(failedIDs) > 0 {
		status = queuestate.PartiallyDownloadedRepls
		template = "r2-ready-partial"
	}
	return finishUser(ctx, stateStore, mailClient, spec, &queuestate.Row{
		ID: username, Username: username, Email: spec.UserEmail,
		Status: status, R2Link: link, FailedIDs: failedIDs, ReplCount: replCount,
		FinishedAt: time.Now(),
	}, template, map[string]string{"link": link, "failed_count": strconv.Itoa(len(failedIDs))})
}

// finishUser persists row and sends the matching notification template,
// per spec.md §7's propagation policy: archive/upload failures become the
// user's final status, never a panic.
func finishUser(ctx context.Context, stateStore queuestate.Store, mailClient mailer.Mailer, spec *jobSpec, row *queuestate.Row, template string, data map[string]string) error {
	if err := stateStore.Update(ctx, row); err != nil {
		trace.Errorf("takeout-worker: update final state row for %s: %v", row.Username, err)
	}
	return mailClient.Send(ctx, template, spec.UserEmail, data)
}
