// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives one repl through the Crosis→Fallback state
// machine (spec.md §4.9): attempt the full RPC-based download under a
// wall-clock timeout, and on any failure fall back to a direct HTTPS zip
// download. Grounded on the teacher's overall job-composition shape in
// cmd/zeta-serve (compose subsystems behind a bounded context, clean
// shutdown on every exit path), generalized from a long-running server
// to a single bounded per-repl job.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hackclub/replit-lifeboat/modules/fetcher"
	"github.com/hackclub/replit-lifeboat/modules/history"
	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"github.com/hackclub/replit-lifeboat/modules/walker"
	"github.com/hackclub/replit-lifeboat/pkg/gitbuild"
	"github.com/hackclub/replit-lifeboat/pkg/progress"
	"github.com/hackclub/replit-lifeboat/pkg/zipper"
	"golang.org/x/sync/errgroup"
)

// Status is the orchestrator's terminal output per spec.md §6.
type Status string

const (
	StatusFull      Status = "Full"
	StatusNoHistory Status = "NoHistory"
	StatusFailed    Status = "Failed"
)

const (
	contentFetcherWorkers = 2
	gcsfilesService       = "gcsfiles"
	secretsService        = "secrets"
)

// Repl describes the one repl a Job downloads.
type Repl struct {
	ID        string
	Slug      string
	Username  string
	CreatedAt time.Time
}

// Job is the orchestrator's input, matching spec.md §6's
// "Orchestrator inputs" collaborator contract.
type Job struct {
	AuthToken string
	Repl      Repl
	UserEmail string
	WorkingDir string
	Timeout   time.Duration

	// MetadataURL is the per-repl connection-metadata endpoint (spec.md
	// §6's session bootstrap). FallbackZipURL is the flat-archive URL
	// used when the Crosis path fails.
	MetadataURL    string
	FallbackZipURL string

	// Reporter receives live progress for this repl's content fetch, a
	// *progress.ReplBar in the CLI. Nil is a valid no-op.
	Reporter Reporter
}

// Reporter receives live per-file progress for one repl's content fetch.
// Satisfied by *progress.ReplBar.
type Reporter interface {
	SetTotal(total int64)
	Increment()
	Done()
}

type noopReporter struct{}

func (noopReporter) SetTotal(int64) {}
func (noopReporter) Increment()     {}
func (noopReporter) Done()          {}

// Result is the orchestrator's output per spec.md §6. TimedOut is not
// part of the formal status enum but lets callers bucket progress
// counters into timed_out vs failed_other (spec.md §4.10) without
// widening Status.
type Result struct {
	Status    Status
	FileCount int
	TimedOut  bool
}

// Outcome maps a Result onto the progress package's counter enum.
func (r Result) Outcome() progress.Outcome {
	switch {
	case r.Status == StatusFull:
		return progress.OutcomeFull
	case r.Status == StatusNoHistory:
		return progress.OutcomeNoHistory
	case r.TimedOut:
		return progress.OutcomeTimedOut
	default:
		return progress.OutcomeFailed
	}
}

// Config bundles the per-file parallelism and bucketing tunables
// (modules/env.Config) the Crosis path needs.
type Config struct {
	MaxFileParallelism int
	FileSizeCapBytes   int64
	BucketWidthSeconds int64
	Identity           gitbuild.Identity
}

// Orchestrator runs jobs against a shared HTTP client.
type Orchestrator struct {
	cfg        Config
	httpClient *http.Client
}

// New creates an Orchestrator. httpClient is shared across jobs (spec.md
// §9's explicit-context-struct note); a nil client falls back to
// http.DefaultClient.
func New(cfg Config, httpClient *http.Client) *Orchestrator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Orchestrator{cfg: cfg, httpClient: httpClient}
}

// Run drives one repl through Start→Crosis→{Zipped,Fallback}→{terminal}.
// Partial staging is removed unconditionally on every exit path.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Result, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	replRoot := filepath.Join(job.WorkingDir, job.Repl.Slug)
	defer cleanupStaging(replRoot)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fileCount, err := o.runCrosis(cctx, job, replRoot)
	if err == nil {
		return Result{Status: StatusFull, FileCount: fileCount}, nil
	}

	timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)
	trace.Errorf("orchestrator: crosis path failed for %s, falling back: %v", job.Repl.Slug, err)

	zipFileCount, fbErr := o.runFallback(ctx, job, replRoot)
	if fbErr != nil {
		trace.Errorf("orchestrator: fallback failed for %s: %v", job.Repl.Slug, fbErr)
		return Result{Status: StatusFailed, TimedOut: timedOut}, fbErr
	}
	return Result{Status: StatusNoHistory, FileCount: zipFileCount, TimedOut: timedOut}, nil
}

// runCrosis is the full RPC-based download: bootstrap, connect, walk,
// fetch content and history concurrently, synthesize git.
func (o *Orchestrator) runCrosis(ctx context.Context, job Job, replRoot string) (int, error) {
	reporter := job.Reporter
	if reporter == nil {
		reporter = noopReporter{}
	}
	defer reporter.Done()

	mainDir := filepath.Join(replRoot, "main")
	stagingDir := filepath.Join(replRoot, "staging")
	otDir := filepath.Join(replRoot, "ot")
	for _, dir := range []string{mainDir, stagingDir, otDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, trace.Errorf("orchestrator: mkdir %q: %v", dir, err)
		}
	}

	meta, err := rpcsession.FetchMetadata(ctx, o.httpClient, job.MetadataURL, job.AuthToken)
	if err != nil {
		return 0, trace.Errorf("orchestrator: fetch metadata: %v", err)
	}
	session, err := rpcsession.ConnectWithRetry(ctx, meta.GatewayURL, meta.Token, 500*time.Millisecond, 2.0, 2*time.Minute)
	if err != nil {
		return 0, trace.Errorf("orchestrator: connect: %v", err)
	}
	defer session.Destroy()

	if err := session.WaitBoot(ctx); err != nil {
		return 0, trace.Errorf("orchestrator: wait boot: %v", err)
	}

	filesChannel, err := session.Open(ctx, gcsfilesService, "", rpcsession.ActionAttachOrCreate)
	if err != nil {
		return 0, trace.Errorf("orchestrator: open gcsfiles: %v", err)
	}
	defer filesChannel.Close()

	w, err := walker.New(filesChannel, o.cfg.FileSizeCapBytes)
	if err != nil {
		return 0, trace.Errorf("orchestrator: new walker: %v", err)
	}
	defer w.Close()

	contentPaths := make(chan string, 256)
	historyPaths := make(chan string, 256)

	contentFetcher := fetcher.New(filesChannel, mainDir, contentFetcherWorkers, reporter)
	historyFetcher := history.New(session, replRoot, job.Repl.CreatedAt.Unix(), o.cfg.BucketWidthSeconds, o.cfg.MaxFileParallelism)

	var walkResult walker.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := w.Walk(gctx, contentPaths, historyPaths)
		walkResult = res
		return err
	})
	g.Go(func() error {
		return contentFetcher.Run(gctx, contentPaths)
	})
	g.Go(func() error {
		return historyFetcher.Run(gctx, historyPaths)
	})
	if err := g.Wait(); err != nil {
		return 0, trace.Errorf("orchestrator: crosis fan-out: %v", err)
	}
	reporter.SetTotal(int64(walkResult.FileCount))

	secretsEnv := fetchSecrets(ctx, session)

	builder := gitbuild.New(replRoot, o.cfg.Identity)
	if err := builder.Build(ctx, walkResult.SawPreexistingGit, job.Repl.CreatedAt.Unix(), secretsEnv); err != nil {
		return 0, trace.Errorf("orchestrator: gitbuild: %v", err)
	}
	return walkResult.FileCount, nil
}

// fetchSecrets is best-effort per spec.md §9's third open question: any
// error yields an empty .env rather than failing the repl.
func fetchSecrets(ctx context.Context, session *rpcsession.Session) []byte {
	ch, err := session.Open(ctx, secretsService, "", rpcsession.ActionAttachOrCreate)
	if err != nil {
		trace.Errorf("orchestrator: open secrets channel: %v", err)
		return nil
	}
	defer ch.Close()

	res, err := rpcsession.RequestTyped[rpcsession.SecretsGetResponse](ctx, ch, rpcsession.TagSecretsGetRequest, &rpcsession.SecretsGetRequest{}, rpcsession.TagSecretsGetResponse)
	if err != nil {
		trace.Errorf("orchestrator: fetch secrets: %v", err)
		return nil
	}
	return []byte(res.Contents)
}

// runFallback streams the repl's flat zip archive directly to disk and
// unpacks it into main/, producing a history-less but complete file tree.
// main/ is reset first: a prior Crosis attempt may have left a partial
// tree there, and the fallback output must be the zip's contents alone.
func (o *Orchestrator) runFallback(ctx context.Context, job Job, replRoot string) (int, error) {
	mainDir := filepath.Join(replRoot, "main")
	if err := os.RemoveAll(mainDir); err != nil {
		return 0, trace.Errorf("orchestrator: reset %q: %v", mainDir, err)
	}
	if err := os.MkdirAll(mainDir, 0o755); err != nil {
		return 0, trace.Errorf("orchestrator: fallback mkdir: %v", err)
	}

	zipPath := filepath.Join(replRoot, "fallback.zip")
	if err := o.downloadZip(ctx, job, zipPath); err != nil {
		return 0, err
	}
	defer os.Remove(zipPath)

	count, err := zipper.Extract(zipPath, mainDir)
	if err != nil {
		return 0, trace.Errorf("orchestrator: extract fallback zip: %v", err)
	}
	return count, nil
}

func (o *Orchestrator) downloadZip(ctx context.Context, job Job, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.FallbackZipURL, nil)
	if err != nil {
		return trace.Errorf("orchestrator: build fallback request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+job.AuthToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return trace.Errorf("orchestrator: fallback GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return trace.Errorf("orchestrator: fallback GET returned %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return trace.Errorf("orchestrator: create fallback zip: %v", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return trace.Errorf("orchestrator: stream fallback zip: %v", err)
	}
	return nil
}

// cleanupStaging removes every non-final scaffolding directory under
// replRoot unconditionally on exit from any state (spec.md §4.9): the
// history fetcher's staging/ and ot/, and (on a failed build,
// before gitbuild renames it into main/) git/. Only main/ survives into
// the working_dir/<slug>/ subtree that gets zipped.
func cleanupStaging(replRoot string) {
	for _, name := range []string{"staging", "ot", "git"} {
		dir := filepath.Join(replRoot, name)
		if err := os.RemoveAll(dir); err != nil {
			trace.Errorf("orchestrator: cleanup %q: %v", dir, err)
		}
	}
}
