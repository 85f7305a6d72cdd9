// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hackclub/replit-lifeboat/modules/env"
	"github.com/hackclub/replit-lifeboat/modules/mailer"
	"github.com/hackclub/replit-lifeboat/modules/objectstore"
	"github.com/hackclub/replit-lifeboat/modules/queuestate"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"github.com/hackclub/replit-lifeboat/pkg/gitbuild"
	"github.com/hackclub/replit-lifeboat/pkg/orchestrator"
	"github.com/hackclub/replit-lifeboat/pkg/progress"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// jobSpec is the on-disk/stdin shape of one repl job, mirroring spec.md
// §6's "Orchestrator inputs" collaborator contract.
type jobSpec struct {
	AuthToken string `json:"auth_token"`
	Repl      struct {
		ID        string `json:"id"`
		Slug      string `json:"slug"`
		Username  string `json:"username"`
		CreatedAt int64  `json:"created_at"`
	} `json:"repl"`
	UserEmail      string `json:"user_email"`
	WorkingDir     string `json:"working_dir"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
	MetadataURL    string `json:"metadata_url"`
	FallbackZipURL string `json:"fallback_zip_url"`

	// FinalRepl marks this as the user's last repl; once its outcome is
	// recorded, runJob archives working_dir, uploads it, and emails the
	// download link (spec.md §4.10). ReplCount and FailedReplIDs are the
	// supervisor's tally across all of the user's repls, this one
	// included; they are only consulted when FinalRepl is set.
	FinalRepl     bool     `json:"final_repl"`
	ReplCount     int      `json:"repl_count"`
	FailedReplIDs []string `json:"failed_repl_ids"`
}

// runOutput is the JSON printed to stdout on completion, matching
// spec.md §6's "Orchestrator outputs".
type runOutput struct {
	Status    orchestrator.Status `json:"status"`
	FileCount int                 `json:"file_count"`
}

func newRunCmd() *cobra.Command {
	var jobFile string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download one repl and print its resulting status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), jobFile, quiet)
		},
	}
	cmd.Flags().StringVar(&jobFile, "job-file", "-", `path to a job spec JSON file, or "-" for stdin`)
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the live per-file progress bar")
	return cmd
}

func runJob(ctx context.Context, jobFile string, quiet bool) error {
	spec, err := readJobSpec(jobFile)
	if err != nil {
		return fmt.Errorf("read job spec: %w", err)
	}

	cfg, err := env.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, stateStore, mailClient := buildCollaborators(ctx, cfg)

	correlationID := uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"repl_slug":      spec.Repl.Slug,
		"username":       spec.Repl.Username,
	}).Info("takeout-worker: starting repl download")

	timeout := cfg.ReplTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}

	o := orchestrator.New(orchestrator.Config{
		MaxFileParallelism: cfg.MaxFileParallelism,
		FileSizeCapBytes:   cfg.FileSizeCapBytes,
		BucketWidthSeconds: cfg.BucketWidthSeconds,
		Identity:           gitbuild.Identity{Name: "Replit Takeout", Email: "takeout@hackclub.com"},
	}, http.DefaultClient)

	bars := progress.NewBars(quiet)
	bar := bars.NewReplBar(spec.Repl.Slug)

	result, runErr := o.Run(ctx, orchestrator.Job{
		AuthToken: spec.AuthToken,
		Repl: orchestrator.Repl{
			ID:        spec.Repl.ID,
			Slug:      spec.Repl.Slug,
			Username:  spec.Repl.Username,
			CreatedAt: time.Unix(spec.Repl.CreatedAt, 0),
		},
		UserEmail:      spec.UserEmail,
		WorkingDir:     spec.WorkingDir,
		Timeout:        timeout,
		MetadataURL:    spec.MetadataURL,
		FallbackZipURL: spec.FallbackZipURL,
		Reporter:       bar,
	})
	bars.Wait()
	if runErr != nil {
		trace.Errorf("takeout-worker: repl %s ended in failure: %v", spec.Repl.Slug, runErr)
	}

	recordOutcome(ctx, store, stateStore, mailClient, spec, result)

	if spec.FinalRepl {
		if err := finalizeUser(ctx, store, stateStore, mailClient, spec); err != nil {
			trace.Errorf("takeout-worker: finalize user %s: %v", spec.Repl.Username, err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(runOutput{Status: result.Status, FileCount: result.FileCount})
}

func readJobSpec(path string) (*jobSpec, error) {
	var r io.Reader
	if path == "" || path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var spec jobSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// buildCollaborators wires the process-wide collaborator context spec.md
// §9 asks for: an object store for progress snapshots, a persistent-state
// row store, and an email client. The real R2/Airtable/Loops backends are
// out of scope (spec.md §1); object_store falls back to an in-memory Fake
// when R2 credentials are not configured so `run` stays usable standalone.
func buildCollaborators(ctx context.Context, cfg *env.Config) (objectstore.Store, queuestate.Store, mailer.Mailer) {
	var store objectstore.Store
	if cfg.R2AccountID != "" && cfg.R2Bucket != "" {
		s3store, err := objectstore.NewS3Store(ctx, cfg.R2AccountID, cfg.R2AccessKey, cfg.R2SecretKey, cfg.R2Bucket, cfg.R2Endpoint)
		if err != nil {
			trace.Errorf("takeout-worker: build S3 store, falling back to in-memory: %v", err)
			store = objectstore.NewFake()
		} else {
			store = s3store
		}
	} else {
		store = objectstore.NewFake()
	}
	return store, queuestate.NewLogStore(), mailer.NewLogMailer()
}

func recordOutcome(ctx context.Context, store objectstore.Store, stateStore queuestate.Store, mailClient mailer.Mailer, spec *jobSpec, result orchestrator.Result) {
	var counters progress.Counters
	outcome := result.Outcome()
	counters.Record(outcome)
	counters.Publish(ctx, store, spec.Repl.Username)
	replsProcessedTotal.WithLabelValues(string(result.Status)).Inc()

	row := &queuestate.Row{
		ID:         spec.Repl.Username,
		Username:   spec.Repl.Username,
		Email:      spec.UserEmail,
		FinishedAt: time.Now(),
		ReplCount:  1,
		FileCount:  result.FileCount,
	}
	switch result.Status {
	case orchestrator.StatusFull:
		row.Status = queuestate.DownloadedRepls
	case orchestrator.StatusNoHistory:
		row.Status = queuestate.PartiallyDownloadedRepls
	default:
		row.Status = queuestate.Errored
		row.FailedIDs = []string{spec.Repl.ID}
	}
	if err := stateStore.Update(ctx, row); err != nil {
		trace.Errorf("takeout-worker: update state row for %s: %v", spec.Repl.Username, err)
	}

	if row.Status == queuestate.Errored {
		_ = mailClient.Send(ctx, "repl-failed", spec.UserEmail, map[string]string{"repl_slug": spec.Repl.Slug})
	}
}
