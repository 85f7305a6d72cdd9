// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fetcher implements the content fetcher (spec.md §4.5): one or
// more workers share a single gcsfiles channel, reading each path's bytes
// and writing them under the staging directory's main/ subtree.
package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"golang.org/x/sync/errgroup"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Reporter receives one tick per file this Fetcher finishes writing.
// Satisfied by *progress.ReplBar; nil is a valid no-op.
type Reporter interface {
	Increment()
}

// Fetcher writes live file bytes to mainDir/<path> for every path it
// receives.
type Fetcher struct {
	channel  *rpcsession.Channel
	mainDir  string
	workers  int
	reporter Reporter
}

// New creates a Fetcher with the given worker count (spec.md §4.9 default
// is 2 content-fetcher workers per repl). reporter may be nil.
func New(channel *rpcsession.Channel, mainDir string, workers int, reporter Reporter) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{channel: channel, mainDir: mainDir, workers: workers, reporter: reporter}
}

// Run drains paths until the channel is closed, fetching and writing each
// one. No retries happen at this layer (spec.md §4.5); the first error
// cancels the remaining workers and is returned.
func (f *Fetcher) Run(ctx context.Context, paths <-chan string) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case p, ok := <-paths:
					if !ok {
						return nil
					}
					if err := f.fetchOne(ctx, p); err != nil {
						return err
					}
					if f.reporter != nil {
						f.reporter.Increment()
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	return g.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, p string) error {
	file, err := rpcsession.RequestTyped[rpcsession.File](ctx, f.channel, rpcsession.TagRead, &rpcsession.Read{Path: p}, rpcsession.TagFile)
	if err != nil {
		return trace.Errorf("fetcher: read %q: %v", p, err)
	}
	content := maybeDecompress(file.Content)

	dest := filepath.Join(f.mainDir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return trace.Errorf("fetcher: mkdir for %q: %v", p, err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return trace.Errorf("fetcher: write %q: %v", p, err)
	}
	return nil
}

// maybeDecompress sniffs for the gzip magic bytes and transparently
// decompresses. Whether File.content is ever gzip-encoded is ambiguous
// upstream (spec.md §9); on any decode error the raw bytes are used as-is
// rather than failing the fetch.
func maybeDecompress(content []byte) []byte {
	if len(content) < 2 || content[0] != gzipMagic[0] || content[1] != gzipMagic[1] {
		return content
	}
	r, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return content
	}
	defer r.Close()
	decoded, err := io.ReadAll(r)
	if err != nil {
		return content
	}
	return decoded
}
