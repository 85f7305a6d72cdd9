// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitbuild synthesizes a git history out of the staging/main
// directories a History Fetcher and Content Fetcher populate, by shelling
// out to the real git binary (spec.md §4.8).
package gitbuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hackclub/replit-lifeboat/modules/command"
	"github.com/hackclub/replit-lifeboat/modules/trace"
)

const historyBranch = "replit-takeout-history"

// Identity is the deterministic committer/author identity stamped onto
// every synthesized commit.
type Identity struct {
	Name  string
	Email string
}

// Builder turns a job's staging directory into a single git repository
// under <root>/main.
type Builder struct {
	root     string // job's working directory: contains main/, staging/, ot/, git/
	identity Identity
}

// New creates a Builder rooted at root.
func New(root string, identity Identity) *Builder {
	return &Builder{root: root, identity: identity}
}

// Build runs the full ten-step algorithm from spec.md §4.8. preexistingGit
// reports whether the walker saw a pre-existing .git directory; origin is
// the repl's creation time, used as the final commit's timestamp when no
// history buckets exist; secretsEnv is the raw contents to write to the
// final .env (empty if the secrets channel didn't return anything).
func (b *Builder) Build(ctx context.Context, preexistingGit bool, origin int64, secretsEnv []byte) error {
	mainDir := filepath.Join(b.root, "main")
	stagingDir := filepath.Join(b.root, "staging")
	gitDir := filepath.Join(b.root, "git")
	otDir := filepath.Join(b.root, "ot")

	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return trace.Errorf("gitbuild: mkdir git dir: %v", err)
	}

	if err := b.run(ctx, gitDir, "init"); err != nil {
		return trace.Errorf("gitbuild: init: %v", err)
	}
	if err := b.configureIdentity(ctx, gitDir); err != nil {
		return err
	}

	if preexistingGit {
		if err := copyTree(mainDir, gitDir); err != nil {
			return trace.Errorf("gitbuild: seed git dir from main: %v", err)
		}
	}
	if err := b.commitEmpty(ctx, gitDir, time.Now().Unix()); err != nil {
		return trace.Errorf("gitbuild: initial empty commit: %v", err)
	}
	if preexistingGit {
		if err := b.run(ctx, gitDir, "checkout", "-b", historyBranch); err != nil {
			return trace.Errorf("gitbuild: checkout history branch: %v", err)
		}
	}

	buckets, err := listBuckets(stagingDir)
	if err != nil {
		return trace.Errorf("gitbuild: list staging buckets: %v", err)
	}

	var maxBucket int64
	for _, bucket := range buckets {
		if bucket > maxBucket {
			maxBucket = bucket
		}
		src := filepath.Join(stagingDir, strconv.FormatInt(bucket, 10))
		if err := moveTree(src, gitDir); err != nil {
			return trace.Errorf("gitbuild: move bucket %d into git dir: %v", bucket, err)
		}
		if err := b.stageAndCommit(ctx, gitDir, "History snapshot", bucket); err != nil {
			return trace.Errorf("gitbuild: commit bucket %d: %v", bucket, err)
		}
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return trace.Errorf("gitbuild: remove staging dir: %v", err)
	}

	if err := moveTree(mainDir, gitDir); err != nil {
		return trace.Errorf("gitbuild: move main into git dir: %v", err)
	}
	if err := appendGitignore(gitDir); err != nil {
		return trace.Errorf("gitbuild: append gitignore: %v", err)
	}

	finalTime := maxBucket
	if len(buckets) == 0 {
		finalTime = origin
	}
	if err := b.stageAndCommit(ctx, gitDir, "Final history snapshot", finalTime); err != nil {
		return trace.Errorf("gitbuild: final commit: %v", err)
	}

	if secretsEnv == nil {
		secretsEnv = []byte{}
	}
	if err := os.WriteFile(filepath.Join(gitDir, ".env"), secretsEnv, 0o600); err != nil {
		return trace.Errorf("gitbuild: write .env: %v", err)
	}

	if err := os.RemoveAll(mainDir); err != nil {
		return trace.Errorf("gitbuild: remove old main dir: %v", err)
	}
	if err := os.Rename(gitDir, mainDir); err != nil {
		return trace.Errorf("gitbuild: rename git dir to main: %v", err)
	}

	if _, err := os.Stat(otDir); err == nil {
		dest := filepath.Join(mainDir, ".replit-takeout-otbackup")
		if err := os.Rename(otDir, dest); err != nil {
			return trace.Errorf("gitbuild: move ot log into backup dir: %v", err)
		}
	}
	return nil
}

func (b *Builder) configureIdentity(ctx context.Context, gitDir string) error {
	if err := b.run(ctx, gitDir, "config", "user.name", b.identity.Name); err != nil {
		return trace.Errorf("gitbuild: configure user.name: %v", err)
	}
	if err := b.run(ctx, gitDir, "config", "user.email", b.identity.Email); err != nil {
		return trace.Errorf("gitbuild: configure user.email: %v", err)
	}
	return nil
}

func (b *Builder) commitEmpty(ctx context.Context, gitDir string, ts int64) error {
	return b.runAt(ctx, gitDir, ts, "commit", "--allow-empty", "-m", "Initial commit")
}

func (b *Builder) stageAndCommit(ctx context.Context, gitDir, message string, ts int64) error {
	if err := b.run(ctx, gitDir, "add", "-A"); err != nil {
		return err
	}
	return b.runAt(ctx, gitDir, ts, "commit", "--allow-empty", "-m", message)
}

// runAt runs a git subcommand with both author and committer dates pinned
// to ts, UTC, matching the deterministic history spec.md demands.
func (b *Builder) runAt(ctx context.Context, gitDir string, ts int64, arg ...string) error {
	date := time.Unix(ts, 0).UTC().Format(time.RFC3339)
	opt := &command.RunOpts{
		RepoPath: gitDir,
		Stderr:   command.NewStderr(),
		ExtraEnv: []string{
			"GIT_AUTHOR_DATE=" + date,
			"GIT_COMMITTER_DATE=" + date,
		},
	}
	cmd := command.NewFromOptions(ctx, opt, "git", arg...)
	if err := cmd.RunEx(); err != nil {
		return errors.New(command.FromError(err))
	}
	return nil
}

func (b *Builder) run(ctx context.Context, gitDir string, arg ...string) error {
	opt := &command.RunOpts{RepoPath: gitDir, Stderr: command.NewStderr()}
	cmd := command.NewFromOptions(ctx, opt, "git", arg...)
	if err := cmd.RunEx(); err != nil {
		return errors.New(command.FromError(err))
	}
	return nil
}

func listBuckets(stagingDir string) ([]int64, error) {
	entries, err := os.ReadDir(stagingDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	buckets := make([]int64, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		buckets = append(buckets, n)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	return buckets, nil
}
