package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected is returned by Connect on an instance that is
	// connected or has a Connect in flight.
	ErrAlreadyConnected = errors.New("transport: already connected")
	// ErrClosed is returned by Connect on an instance that has been closed.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownKind is returned by ParseKind and New for unsupported kinds.
	ErrUnknownKind = errors.New("transport: unknown kind")
)

// SetupError reports a failed Connect. The instance stays Unconnected.
type SetupError struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("transport %s: connect %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
