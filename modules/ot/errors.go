package ot

import "errors"

var (
	// ErrInvalidOp is returned when a Skip or Delete would run past the
	// end of the buffer.
	ErrInvalidOp = errors.New("ot: invalid op")
	// ErrCrcMismatch is returned when the buffer's contents after
	// applying a packet do not match its declared checksum.
	ErrCrcMismatch = errors.New("ot: crc32 mismatch")
)
