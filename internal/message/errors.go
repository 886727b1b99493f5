package message

import (
	"errors"
	"fmt"
)

var (
	ErrLengthMismatch = errors.New("message: payload length mismatch")
	ErrTooManyEntries = errors.New("message: too many entries")
	ErrInvalidStatus  = errors.New("message: invalid announce status")
)

// ParseError indicates a failure to decode one field of a message. It
// wraps the underlying I/O or format error.
type ParseError struct {
	Message string
	Field   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("message: parse %s %s: %v", e.Message, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
