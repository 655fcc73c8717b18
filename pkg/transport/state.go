package transport

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Client.
type State int32

const (
	StateNotOpen State = iota
	StateConnecting
	StateOpen
	StateClosedError
	StateClosedByRequest
)

func (s State) String() string {
	switch s {
	case StateNotOpen:
		return "not-open"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedError:
		return "closed:error"
	case StateClosedByRequest:
		return "closed:request"
	default:
		return "unknown"
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool { return s == StateClosedError || s == StateClosedByRequest }

var (
	ErrNotOpen       = errors.New("transport: connection not open")
	ErrClosed        = errors.New("transport: connection closed")
	ErrAckTimeout    = errors.New("transport: acknowledge timeout")
	ErrFatalCode     = errors.New("transport: fatal server error code")
	ErrServerClosed  = errors.New("transport: server closed the session")
	ErrUnexpectedRsp = errors.New("transport: unexpected response")
)

// CodeError carries a fatal numeric error code sent by the service.
type CodeError struct {
	Code int
}

func (e *CodeError) Error() string { return fmt.Sprintf("transport: server error code %d", e.Code) }

func (e *CodeError) Is(target error) bool { return target == ErrFatalCode }
