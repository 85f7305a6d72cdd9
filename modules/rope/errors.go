package rope

import "errors"

// ErrOutOfRange is returned when an operation's position or length would
// run past the end of the buffer.
var ErrOutOfRange = errors.New("rope: position out of range")
