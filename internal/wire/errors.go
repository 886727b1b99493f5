package wire

import "errors"

// Limits applied while decoding peer-supplied lengths.
const (
	MaxBytesLen = 1 << 24
	MaxArrayLen = 1 << 16
)

var (
	ErrTooLarge    = errors.New("wire: declared length exceeds limit")
	ErrInvalidBool = errors.New("wire: invalid boolean byte")
	ErrClosed      = errors.New("wire: use of closed reader or writer")
)
