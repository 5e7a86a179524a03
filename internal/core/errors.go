package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrUnsupported       = errors.New("media capture unsupported")

	ErrConnectivityFailure = errors.New("ice connectivity failed")
	ErrTimeout             = errors.New("timed out")
	ErrNoLocalStream       = errors.New("no local stream held")
	ErrClosed              = errors.New("closed")
)

// PermissionError is returned when local media cannot be acquired.
// Reason is one of ErrPermissionDenied, ErrDeviceUnavailable, ErrUnsupported
// or ErrTimeout.
type PermissionError struct {
	Reason error
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err == nil || e.Err == e.Reason {
		return fmt.Sprintf("media acquisition: %v", e.Reason)
	}
	return fmt.Sprintf("media acquisition: %v: %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() []error { return []error{e.Reason, e.Err} }

// SignalingError means the relay was unreachable or rejected a write.
// It is fatal to the call in progress.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string { return fmt.Sprintf("signaling %s: %v", e.Op, e.Err) }

func (e *SignalingError) Unwrap() error { return e.Err }

// NegotiationError reports a malformed or out-of-order SDP or candidate.
// Fatal is set when the connection is left in an unrecoverable signaling state.
type NegotiationError struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err) }

func (e *NegotiationError) Unwrap() error { return e.Err }

// IsFatalNegotiation reports whether err carries a fatal NegotiationError.
func IsFatalNegotiation(err error) bool {
	var ne *NegotiationError
	return errors.As(err, &ne) && ne.Fatal
}
