// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ignore implements the downloader's fixed ignore set: a path is
// ignored if any of its POSIX segments exactly matches a member, never by
// substring.
package ignore

import "strings"

// names is the fixed set of 28 directory and file names the walker
// refuses to descend into or emit. `.git` and `.replit-takeout-otbackup`
// are deliberately absent: the walker special-cases both (spec.md §4.4)
// rather than silently skipping them like an ordinary ignored directory.
var names = map[string]struct{}{
	".astro":            {},
	".cache":            {},
	".config":           {},
	".deno":             {},
	".DS_Store":         {},
	".next":             {},
	".pnp":              {},
	".pnp.js":           {},
	".pythonlibs":       {},
	".svelte-kit":       {},
	".venv":             {},
	".vercel":           {},
	"__MACOSX":          {},
	"__pycache__":       {},
	"build":             {},
	"coverage":          {},
	"dist":              {},
	"node_modules":      {},
	"out":               {},
	"package-lock.json": {},
	"pnpm-lock.yaml":    {},
	"target":            {},
	"tmp":               {},
	"vendor":            {},
	"venv":              {},
	"yarn.lock":         {},
	"zig-cache":         {},
	"zig-out":           {},
}

// Set reports whether name is one of the fixed ignore-set members.
func Set(name string) bool {
	_, ok := names[name]
	return ok
}

// MatchesPath reports whether any POSIX segment of path is an ignored
// name. path must be forward-slash separated; it is never tested as a
// substring.
func MatchesPath(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if Set(segment) {
			return true
		}
	}
	return false
}
