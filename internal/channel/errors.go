package channel

import (
	"errors"
	"fmt"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

var (
	ErrNotConnected     = errors.New("channel not connected")
	ErrShutdown         = errors.New("channel shut down")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrRetriesExhausted = errors.New("connection retries exhausted")
	ErrRejected         = errors.New("rejected by server")
	ErrServerRestart    = errors.New("server restarting")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNoDialer         = errors.New("no dialer configured")
)

// UserMessage is the only failure text meant for end users.
const UserMessage = "connection lost, please retry"

// ConnectError reports a failed connection attempt. It is retried.
type ConnectError struct {
	Attempt   int
	Transport transport.Kind
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Transport != "" {
		return fmt.Sprintf("connect attempt %d over %s: %v", e.Attempt, e.Transport, e.Err)
	}
	return fmt.Sprintf("connect attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError reports the loss of an established connection. It is retried.
type TransportError struct {
	Transport transport.Kind
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport lost: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SignalSendError is returned when a signal could not be handed to the
// transport. Signals are never retried.
type SignalSendError struct {
	Room string
	Kind protocol.SignalKind
	Err  error
}

func (e *SignalSendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Kind, e.Room, e.Err)
}

func (e *SignalSendError) Unwrap() error {
	return e.Err
}

// RoomProtocolError is returned when a join or leave cannot happen.
type RoomProtocolError struct {
	Op     string
	Room   string
	Reason string
	Err    error
}

func (e *RoomProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.Room, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
}

func (e *RoomProtocolError) Unwrap() error {
	return e.Err
}

func joinError(room string, err error) *RoomProtocolError {
	return &RoomProtocolError{Op: "join", Room: room, Err: err}
}

func leaveError(room string, err error) *RoomProtocolError {
	return &RoomProtocolError{Op: "leave", Room: room, Err: err}
}

func validateJoin(room string, role protocol.Role) error {
	if room == "" {
		return joinError(room, fmt.Errorf("%w: empty room id", ErrInvalidRequest))
	}
	if !role.Valid() {
		return joinError(room, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role))
	}
	return nil
}

func validateSignal(room string, kind protocol.SignalKind) error {
	if room == "" {
		return &SignalSendError{Room: room, Kind: kind, Err: fmt.Errorf("%w: empty room id", ErrInvalidRequest)}
	}
	if !kind.Valid() {
		return &SignalSendError{Room: room, Kind: kind, Err: fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)}
	}
	return nil
}
