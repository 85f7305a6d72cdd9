// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package history implements the history fetcher and bucketing loop
// (spec.md §4.6, §4.7): per file, it pulls the OT packet log over a
// dedicated channel, replays it through the OT engine, and materializes
// one snapshot file per timestamp bucket.
package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hackclub/replit-lifeboat/modules/bucketing"
	"github.com/hackclub/replit-lifeboat/modules/ot"
	"github.com/hackclub/replit-lifeboat/modules/rope"
	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const otChannelPrefix = "ot:"

// Fetcher drives one per-file OT channel per path, bounded by a semaphore
// sized MAX_FILE_PARALLELISM.
type Fetcher struct {
	session     *rpcsession.Session
	stagingDir  string
	origin      int64
	bucketWidth int64
	sem         *semaphore.Weighted
}

// New creates a Fetcher rooted at stagingDir (the per-repl working
// directory containing staging/ and ot/), bucketing timestamps relative
// to origin (the repl's creation time).
func New(session *rpcsession.Session, stagingDir string, origin, bucketWidth int64, maxParallelism int) *Fetcher {
	if maxParallelism < 1 {
		maxParallelism = 1
	}
	return &Fetcher{
		session:     session,
		stagingDir:  stagingDir,
		origin:      origin,
		bucketWidth: bucketWidth,
		sem:         semaphore.NewWeighted(int64(maxParallelism)),
	}
}

// Run drains paths until the channel is closed, processing each file's
// history under the semaphore. Per-file errors are swallowed and logged
// (spec.md §7); the rest of the repl proceeds.
func (f *Fetcher) Run(ctx context.Context, paths <-chan string) error {
	g, ctx := errgroup.WithContext(ctx)
	for {
		select {
		case p, ok := <-paths:
			if !ok {
				return g.Wait()
			}
			path := p
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return g.Wait()
			}
			g.Go(func() error {
				defer f.sem.Release(1)
				f.processFile(ctx, path)
				return nil
			})
		case <-ctx.Done():
			return g.Wait()
		}
	}
}

// processFile implements spec.md §4.6 steps 1-8. It never returns an
// error: failures are logged and the file is simply skipped, per the
// per-file error-swallowing policy in spec.md §7.
func (f *Fetcher) processFile(ctx context.Context, path string) {
	if strings.HasPrefix(path, ".git/") {
		return
	}

	channel, err := f.session.Open(ctx, "ot", otChannelPrefix+path, rpcsession.ActionAttachOrCreate)
	if err != nil {
		trace.Errorf("history: open ot channel for %q: %v", path, err)
		return
	}
	defer channel.Close()

	tag, payload, err := channel.Next(ctx)
	if err != nil || tag != rpcsession.TagOtstatus {
		trace.Errorf("history: %q: expected Otstatus, got tag=%v err=%v", path, tag, err)
		return
	}
	status := payload.(*rpcsession.Otstatus)

	version := status.Version
	if status.LinkedFile == nil {
		res, err := rpcsession.RequestTyped[rpcsession.OtLinkFileResponse](ctx, channel, rpcsession.TagOtLinkFile, &rpcsession.OtLinkFile{File: rpcsession.FileRef{Path: path}}, rpcsession.TagOtLinkFileResponse)
		if err != nil {
			trace.Errorf("history: link file %q: %v", path, err)
			return
		}
		version = res.Version
	}

	if version == 0 {
		if err := f.writeOtLog(path, nil); err != nil {
			trace.Errorf("history: write empty ot log for %q: %v", path, err)
		}
		return
	}

	fetchRes, err := rpcsession.RequestTyped[rpcsession.OtFetchResponse](ctx, channel, rpcsession.TagOtFetchRequest, &rpcsession.OtFetchRequest{VersionFrom: 1, VersionTo: version}, rpcsession.TagOtFetchResponse)
	if err != nil {
		trace.Errorf("history: fetch history %q: %v", path, err)
		return
	}

	processed := f.bucketAndFlush(path, fetchRes.Packets)

	if err := f.writeOtLog(path, processed); err != nil {
		trace.Errorf("history: write ot log for %q: %v", path, err)
	}
}

// bucketAndFlush runs the bucketing loop described in spec.md §4.7,
// applying each wire packet to a rope and flushing to
// staging/<bucket>/<path> whenever the bucket changes. It stops (without
// returning an error — the error is swallowed here, matching the
// "mid-stream CRC mismatch aborts this file's history" invariant) at the
// first OT failure, returning only the packets it actually replayed
// successfully, which is what gets written to ot/<path>.
func (f *Fetcher) bucketAndFlush(path string, wire []rpcsession.OtPacketWire) []rpcsession.OtPacketWire {
	if len(wire) == 0 {
		return nil
	}
	buf := rope.New("")
	currentBucket := bucketing.Normalize(wire[0].Committed.Seconds, f.origin, f.bucketWidth)
	var lastHash [32]byte
	haveHash := false
	var processed []rpcsession.OtPacketWire
	lastGood := ""

	for _, w := range wire {
		b := bucketing.Normalize(w.Committed.Seconds, f.origin, f.bucketWidth)
		if b != currentBucket {
			if err := f.flush(path, currentBucket, lastGood, &lastHash, &haveHash); err != nil {
				trace.Errorf("history: flush %q bucket %d: %v", path, currentBucket, err)
				return processed
			}
			currentBucket = b
		}
		packet := toEnginePacket(w)
		if err := ot.Apply(buf, packet); err != nil {
			// Apply mutates buf in place even on failure (e.g. the
			// insert lands before the CRC check runs), so the last
			// known-good snapshot for this bucket is lastGood, not
			// buf's current contents.
			trace.Errorf("history: apply op for %q version %d: %v", path, w.Version, err)
			if ferr := f.flush(path, currentBucket, lastGood, &lastHash, &haveHash); ferr != nil {
				trace.Errorf("history: flush %q bucket %d after abort: %v", path, currentBucket, ferr)
			}
			return processed
		}
		lastGood = buf.String()
		processed = append(processed, w)
	}
	if err := f.flush(path, currentBucket, lastGood, &lastHash, &haveHash); err != nil {
		trace.Errorf("history: final flush %q bucket %d: %v", path, currentBucket, err)
	}
	return processed
}

func (f *Fetcher) flush(path string, bucket int64, contents string, lastHash *[32]byte, haveHash *bool) error {
	hash := blake3.Sum256([]byte(contents))
	if *haveHash && hash == *lastHash {
		// Unchanged since the previous bucket's snapshot: the file
		// already present in git from that commit is still correct,
		// skip the redundant write.
		return nil
	}
	*lastHash = hash
	*haveHash = true

	dest := filepath.Join(f.stagingDir, "staging", formatBucket(bucket), filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(contents), 0o644)
}

func formatBucket(bucket int64) string {
	return strconv.FormatInt(bucket, 10)
}

// normalizedLogEntry is the JSON shape written to ot/<path>: the same
// packet, but with the timestamp replaced by its normalized,
// human-readable form, per spec.md §3 ("JSON array of packets with
// normalised timestamp strings").
type normalizedLogEntry struct {
	Op      []rpcsession.OtOpComponent `json:"op"`
	Crc32   uint32                     `json:"crc32"`
	At      string                     `json:"committed_at"`
	Version uint32                     `json:"version"`
}

func (f *Fetcher) writeOtLog(path string, packets []rpcsession.OtPacketWire) error {
	entries := make([]normalizedLogEntry, 0, len(packets))
	for _, p := range packets {
		bucket := bucketing.Normalize(p.Committed.Seconds, f.origin, f.bucketWidth)
		entries = append(entries, normalizedLogEntry{
			Op:      p.Op,
			Crc32:   p.Crc32,
			At:      time.Unix(bucket, 0).UTC().Format(time.RFC3339),
			Version: p.Version,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	dest := filepath.Join(f.stagingDir, "ot", filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func toEnginePacket(w rpcsession.OtPacketWire) ot.Packet {
	ops := make([]ot.Op, 0, len(w.Op))
	for _, c := range w.Op {
		switch {
		case c.Skip != nil:
			ops = append(ops, ot.Op{Kind: ot.Skip, N: *c.Skip})
		case c.Delete != nil:
			ops = append(ops, ot.Op{Kind: ot.Delete, N: *c.Delete})
		case c.Insert != nil:
			ops = append(ops, ot.Op{Kind: ot.Insert, S: *c.Insert})
		}
	}
	return ot.Packet{Ops: ops, Crc32: w.Crc32, CommittedAt: w.Committed.Seconds, Version: w.Version}
}
