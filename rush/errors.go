package rush

import (
	"errors"
	"fmt"
)

// Sentinel errors for RUSH message handling. Callers distinguish failure
// modes with errors.Is.
var (
	ErrShortMessage    = errors.New("rush: message too short")
	ErrInvalidLength   = errors.New("rush: invalid length field")
	ErrMessageTooLarge = errors.New("rush: message exceeds size limit")
	ErrUnexpectedType  = errors.New("rush: unexpected message type")
	ErrReservedNonZero = errors.New("rush: reserved field is non-zero")
)

// ParseError indicates a failure to parse a RUSH message field. It records
// which field was being parsed when the error occurred.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rush: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
