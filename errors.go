package refetch

import (
	"errors"
	"fmt"
	"syscall"
)

// Errors wrapped by FramingError.
var (
	// ErrLengthMissing is returned when the header block has no Content-Length.
	ErrLengthMissing = errors.New("length header missing")
	// ErrLengthInvalid is returned when Content-Length is not a non-negative integer.
	ErrLengthInvalid = errors.New("length header invalid")
	// ErrEmptyBody is returned when the declared body length is zero.
	// It means no data was produced, not that the fetch failed.
	ErrEmptyBody = errors.New("empty body")
	// ErrClosedEarly is returned when the peer closes before the declared body arrived.
	ErrClosedEarly = errors.New("peer closed before body complete")
	// ErrMessageTooLarge is returned when a response exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// TransportError reports a failed socket operation.
type TransportError struct {
	Op   string // resolve, connect, send, shutdown, receive or close
	Code int    // OS error code, 0 when unknown
	Err  error
}

func newTransportError(op string, err error) *TransportError {
	te := &TransportError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		te.Code = int(errno)
	}
	return te
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport error: %s: [code %d] %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FramingError reports that the end of a response could not be determined.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Err.Error()
}

func (e *FramingError) Unwrap() error { return e.Err }

// ProtocolViolation reports a malformed status line or header block.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Reason
}

// errorKind classifies err for metrics and logs.
func errorKind(err error) string {
	var (
		te *TransportError
		fe *FramingError
		pv *ProtocolViolation
	)
	switch {
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &fe):
		return "framing_error"
	case errors.As(err, &pv):
		return "protocol_violation"
	default:
		return "other_error"
	}
}

// isEmptyBody reports whether err only means that no data was produced.
func isEmptyBody(err error) bool {
	return errors.Is(err, ErrEmptyBody)
}
