// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package walker implements the directory walker (spec.md §4.4): an
// iterative DFS over one RPC channel that applies the ignore set and the
// per-file size cap while emitting a deduplicated stream of file paths.
package walker

import (
	"context"
	"path"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hackclub/replit-lifeboat/modules/ignore"
	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/hackclub/replit-lifeboat/modules/trace"
)

const (
	gitDirName     = ".git"
	otbackupDir    = ".replit-takeout-otbackup"
	statCacheCount = 1e6
	statCacheCost  = 1 << 24
)

// Result is the outcome of one Walk call.
type Result struct {
	// SawPreexistingGit reports whether a `.git` directory was seen at
	// any level of the tree.
	SawPreexistingGit bool
	// FileCount is the number of non-ignored, within-cap regular files
	// emitted.
	FileCount int
}

// Walker drives Readdir/Stat over a single gcsfiles channel.
type Walker struct {
	channel *rpcsession.Channel
	sizeCap int64
	seen    map[string]struct{}
	statCache *ristretto.Cache[string, int64]
}

// New creates a Walker bound to channel, rejecting files larger than
// sizeCap bytes.
func New(channel *rpcsession.Channel, sizeCap int64) (*Walker, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, int64]{
		NumCounters: statCacheCount,
		MaxCost:     statCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, trace.Errorf("walker: new stat cache: %v", err)
	}
	return &Walker{channel: channel, sizeCap: sizeCap, seen: make(map[string]struct{}), statCache: cache}, nil
}

// Close releases the walker's stat cache.
func (w *Walker) Close() {
	w.statCache.Close()
}

// Walk enumerates the tree rooted at "" (the repl root), sending every
// emitted path to every out channel, and closes every out channel when
// done (the "terminator"). Duplicate consumers (e.g. a content fetcher
// and a history fetcher draining the same walk) are supported by passing
// multiple out channels.
func (w *Walker) Walk(ctx context.Context, out ...chan<- string) (Result, error) {
	defer func() {
		for _, o := range out {
			close(o)
		}
	}()

	var result Result
	stack := []string{""}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		files, err := rpcsession.RequestTyped[rpcsession.Files](ctx, w.channel, rpcsession.TagReaddir, &rpcsession.Readdir{Path: dir}, rpcsession.TagFiles)
		if err != nil {
			return result, trace.Errorf("walker: readdir %q: %v", dir, err)
		}

		for _, entry := range files.Files {
			base := path.Base(entry.Path)
			switch entry.Type {
			case rpcsession.FileTypeDirectory:
				switch base {
				case gitDirName:
					result.SawPreexistingGit = true
					continue
				case otbackupDir:
					return result, ErrConflictingOtbackup
				}
				if ignore.Set(base) {
					continue
				}
				stack = append(stack, entry.Path)
			case rpcsession.FileTypeRegular:
				if ignore.MatchesPath(entry.Path) {
					continue
				}
				if _, dup := w.seen[entry.Path]; dup {
					continue
				}
				size, err := w.statSize(ctx, entry.Path)
				if err != nil {
					return result, trace.Errorf("walker: stat %q: %v", entry.Path, err)
				}
				if size > w.sizeCap {
					trace.Errorf("walker: file too large, skipping: %s (%d bytes)", entry.Path, size)
					continue
				}
				w.seen[entry.Path] = struct{}{}
				result.FileCount++
				for _, o := range out {
					select {
					case o <- entry.Path:
					case <-ctx.Done():
						return result, ctx.Err()
					}
				}
			default:
				continue
			}
		}
	}
	return result, nil
}

func (w *Walker) statSize(ctx context.Context, p string) (int64, error) {
	if size, ok := w.statCache.Get(p); ok {
		return size, nil
	}
	res, err := rpcsession.RequestTyped[rpcsession.StatRes](ctx, w.channel, rpcsession.TagStat, &rpcsession.Stat{Path: p}, rpcsession.TagStatRes)
	if err != nil {
		return 0, err
	}
	w.statCache.Set(p, res.Size, 1)
	return res.Size, nil
}
