// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bars renders one progress bar per repl under a shared mpb container,
// replacing the teacher's single-bar pkg/progress.Bar. The `run` command
// downloads one repl and so creates a single bar.
type Bars struct {
	progress *mpb.Progress
	quiet    bool
}

// NewBars starts a new multi-bar container. When quiet is true, every bar
// created from it is a no-op.
func NewBars(quiet bool) *Bars {
	if quiet {
		return &Bars{quiet: true}
	}
	return &Bars{progress: mpb.New(mpb.WithOutput(os.Stderr), mpb.WithAutoRefresh())}
}

// ReplBar is one repl's bar, tracking file count against an unknown (-1)
// total until the walker reports how many files it found.
type ReplBar struct {
	bar   *mpb.Bar
	quiet bool
}

// NewReplBar adds a bar labeled by slug to the container.
func (b *Bars) NewReplBar(slug string) *ReplBar {
	if b.quiet {
		return &ReplBar{quiet: true}
	}
	bar := b.progress.New(-1,
		mpb.BarStyle().Filler("#").Padding(" "),
		mpb.PrependDecorators(
			decor.Name(slug, decor.WC{W: len(slug) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &ReplBar{bar: bar}
}

// SetTotal fixes the bar's denominator once the walker has finished
// enumerating files.
func (r *ReplBar) SetTotal(total int64) {
	if r.quiet {
		return
	}
	r.bar.SetTotal(total, false)
}

// Increment advances the bar by one completed file.
func (r *ReplBar) Increment() {
	if r.quiet {
		return
	}
	r.bar.Increment()
}

// Done marks the bar complete, whether or not its total was ever set.
func (r *ReplBar) Done() {
	if r.quiet {
		return
	}
	r.bar.SetTotal(-1, true)
}

// Wait blocks until every bar in the container finishes rendering.
func (b *Bars) Wait() {
	if b.quiet {
		return
	}
	b.progress.Wait()
}
