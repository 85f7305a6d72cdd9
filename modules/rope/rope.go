// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package rope implements a chunked text buffer addressed by character
// (rune) offsets rather than byte offsets, suitable for replaying
// operational-transform edits without repeatedly copying the whole
// document.
package rope

import (
	"io"
	"strings"
)

// maxChunk is the largest piece normalize will produce by merging two
// adjacent pieces, so a long run of small edits in the middle of a huge
// file doesn't degrade to one giant piece being rewritten on every insert.
// Insert itself splits a piece only at the insertion point, never by size.
const maxChunk = 4096

// Buffer is a rope over Unicode characters. All positions and lengths used
// by its methods are character counts, never byte counts.
type Buffer struct {
	pieces []*piece
	length int
}

type piece struct {
	runes []rune
}

// New builds a Buffer from the given initial contents.
func New(s string) *Buffer {
	b := &Buffer{}
	if s != "" {
		b.insertRunes(0, []rune(s))
	}
	return b
}

// Len returns the character count of the buffer.
func (b *Buffer) Len() int {
	return b.length
}

// String materializes the full buffer contents. Callers on a hot path
// (CRC verification) should prefer WriteTo to avoid this allocation.
func (b *Buffer) String() string {
	var sb strings.Builder
	sb.Grow(b.length)
	for _, p := range b.pieces {
		sb.WriteString(string(p.runes))
	}
	return sb.String()
}

// WriteTo streams the buffer's UTF-8 bytes to w, piece by piece, without
// allocating a single contiguous copy of the whole document.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, p := range b.pieces {
		n, err := io.WriteString(w, string(p.runes))
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// locate finds the piece index and in-piece rune offset containing
// character position at. at == b.length is valid and resolves to the end
// of the last piece (or index 0 for an empty buffer). A position on the
// boundary between two pieces resolves to the start of the later piece.
func (b *Buffer) locate(at int) (idx, offset int) {
	pos := 0
	for i, p := range b.pieces {
		if at < pos+len(p.runes) || (at == pos+len(p.runes) && i == len(b.pieces)-1) {
			return i, at - pos
		}
		pos += len(p.runes)
	}
	return len(b.pieces), 0
}

// Insert splits the piece containing at (if necessary) and inserts the
// given string's runes at that boundary.
func (b *Buffer) Insert(at int, s string) error {
	if at < 0 || at > b.length {
		return ErrOutOfRange
	}
	if s == "" {
		return nil
	}
	b.insertRunes(at, []rune(s))
	return nil
}

func (b *Buffer) insertRunes(at int, runes []rune) {
	idx, offset := b.locate(at)
	if idx < len(b.pieces) && offset > 0 && offset < len(b.pieces[idx].runes) {
		// Split the piece so the new runes land exactly at the boundary.
		tail := &piece{runes: append([]rune(nil), b.pieces[idx].runes[offset:]...)}
		b.pieces[idx].runes = b.pieces[idx].runes[:offset]
		b.pieces = append(b.pieces, nil)
		copy(b.pieces[idx+2:], b.pieces[idx+1:])
		b.pieces[idx+1] = tail
		idx++
		offset = 0
	}
	newPiece := &piece{runes: runes}
	if idx < len(b.pieces) && offset == 0 {
		b.pieces = append(b.pieces, nil)
		copy(b.pieces[idx+1:], b.pieces[idx:])
		b.pieces[idx] = newPiece
	} else {
		b.pieces = append(b.pieces, newPiece)
	}
	b.length += len(runes)
	b.normalize()
}

// Delete removes the n characters starting at position at.
func (b *Buffer) Delete(at, n int) error {
	if at < 0 || n < 0 || at+n > b.length {
		return ErrOutOfRange
	}
	if n == 0 {
		return nil
	}
	remaining := n
	cursor := at
	for remaining > 0 {
		idx, offset := b.locate(cursor)
		if idx >= len(b.pieces) {
			break
		}
		p := b.pieces[idx]
		avail := len(p.runes) - offset
		take := avail
		if take > remaining {
			take = remaining
		}
		p.runes = append(p.runes[:offset], p.runes[offset+take:]...)
		remaining -= take
		b.length -= take
		if len(p.runes) == 0 {
			b.pieces = append(b.pieces[:idx], b.pieces[idx+1:]...)
		}
	}
	return nil
}

// normalize merges adjacent undersized pieces so repeated single-rune
// inserts don't leave thousands of one-character pieces behind.
func (b *Buffer) normalize() {
	for i := 0; i < len(b.pieces)-1; i++ {
		a, c := b.pieces[i], b.pieces[i+1]
		if len(a.runes)+len(c.runes) <= maxChunk {
			a.runes = append(a.runes, c.runes...)
			b.pieces = append(b.pieces[:i+1], b.pieces[i+2:]...)
			i--
		}
	}
}
