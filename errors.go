package blkreactor

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a structured dispatch error with operation context.
type Error struct {
	Op       string    // Operation that failed (e.g. "SUBMIT_READ", "OPEN_QUEUE")
	Reactor  int       // Reactor id (-1 if not applicable)
	WorkUnit string    // WorkUnit name ("" if not applicable)
	Code     ErrorCode // High-level error category
	Msg      string    // Human-readable message
	Inner    error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Reactor >= 0 {
		parts = append(parts, fmt.Sprintf("reactor=%d", e.Reactor))
	}

	if e.WorkUnit != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.WorkUnit))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("blkreactor: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("blkreactor: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support; two errors match when their codes match.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	// ErrCodeResourceExhausted covers queue or core allocation failure.
	// Fatal to the requesting work unit, never to the whole pool.
	ErrCodeResourceExhausted ErrorCode = "resource exhausted"
	// ErrCodeInvalidArgument covers requests rejected synchronously before
	// any device interaction: misaligned buffers, out-of-range LBAs,
	// zero-length reads.
	ErrCodeInvalidArgument ErrorCode = "invalid argument"
	// ErrCodeBackpressure means the queue is at its depth limit. The
	// caller may retry; it is not an error path worth logging.
	ErrCodeBackpressure ErrorCode = "queue full"
	// ErrCodeDeviceError is an asynchronous failure reported on completion.
	ErrCodeDeviceError ErrorCode = "device error"
	// ErrCodeShuttingDown rejects submissions once draining has begun.
	ErrCodeShuttingDown ErrorCode = "shutting down"
	// ErrCodeBusy rejects close while requests remain outstanding.
	ErrCodeBusy ErrorCode = "busy"
	// ErrCodeWrongContext flags a queue handle call from outside its
	// owning work unit's execution context.
	ErrCodeWrongContext ErrorCode = "wrong execution context"
	// ErrCodeNotFound means the named device does not exist.
	ErrCodeNotFound ErrorCode = "not found"
	// ErrCodeOutOfMemory means buffer allocation failed.
	ErrCodeOutOfMemory ErrorCode = "out of memory"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Reactor: -1,
		Code:    code,
		Msg:     msg,
	}
}

// NewReactorError creates a new reactor-scoped error
func NewReactorError(op string, reactor int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Reactor: reactor,
		Code:    code,
		Msg:     msg,
	}
}

// NewUnitError creates a new work-unit-scoped error
func NewUnitError(op, unit string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		Reactor:  -1,
		WorkUnit: unit,
		Code:     code,
		Msg:      msg,
	}
}

// WrapError wraps an existing error with dispatch context. The caller's op
// and code always win; a structured inner error keeps its reactor/work-unit
// context and message, and stays reachable through errors.Is/As.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}

	if de, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			Reactor:  de.Reactor,
			WorkUnit: de.WorkUnit,
			Code:     code,
			Msg:      de.Msg,
			Inner:    de,
		}
	}

	return &Error{
		Op:      op,
		Reactor: -1,
		Code:    code,
		Msg:     inner.Error(),
		Inner:   inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
