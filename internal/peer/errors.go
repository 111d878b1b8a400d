package peer

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedSignal = errors.New("unexpected signal kind")
	ErrUnknownViewer    = errors.New("unknown viewer")
	ErrChannelNotOpen   = errors.New("data channel not open")
)

// Error wraps a failed peer operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) error {
	return &Error{Op: op, Err: err}
}
