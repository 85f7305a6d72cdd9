// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ot replays operational-transform edit packets onto a rope
// buffer and verifies the result against the packet's checksum.
package ot

import (
	"hash/crc32"

	"github.com/hackclub/replit-lifeboat/modules/rope"
)

// OpKind tags the variant of a single Op.
type OpKind int

const (
	Skip OpKind = iota
	Delete
	Insert
)

// Op is one operation within a Packet. Skip and Delete carry their
// magnitude in N; Insert carries its text in S.
type Op struct {
	Kind OpKind
	N    uint32
	S    string
}

// Packet is one versioned OT edit, as fetched from the history channel.
type Packet struct {
	Ops         []Op
	Crc32       uint32
	CommittedAt int64
	Version     uint32
}

// Apply replays packet's ops onto buf in order, mutating it in place, then
// verifies the resulting contents against packet.Crc32. The buffer is left
// in whatever state the ops produced even on failure, matching the source
// semantics: callers that care about CrcMismatch fall back to a single
// final-contents snapshot rather than rolling back history.
func Apply(buf *rope.Buffer, packet Packet) error {
	cursor := 0
	for _, op := range packet.Ops {
		switch op.Kind {
		case Skip:
			if cursor+int(op.N) > buf.Len() {
				return ErrInvalidOp
			}
			cursor += int(op.N)
		case Delete:
			if cursor+int(op.N) > buf.Len() {
				return ErrInvalidOp
			}
			if err := buf.Delete(cursor, int(op.N)); err != nil {
				return ErrInvalidOp
			}
		case Insert:
			if err := buf.Insert(cursor, op.S); err != nil {
				return ErrInvalidOp
			}
			cursor += len([]rune(op.S))
		default:
			return ErrInvalidOp
		}
	}
	if checksum(buf) != packet.Crc32 {
		return ErrCrcMismatch
	}
	return nil
}

// checksum streams buf's UTF-8 bytes through crc32 chunk by chunk, never
// allocating a full copy of the buffer's contents.
func checksum(buf *rope.Buffer) uint32 {
	h := crc32.NewIEEE()
	_, _ = buf.WriteTo(h)
	return h.Sum32()
}
