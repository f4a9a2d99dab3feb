package blkreactor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewUnitError("SUBMIT_READ", "r0-u1", ErrCodeBackpressure, "queue depth reached")

	msg := err.Error()
	for _, want := range []string{"blkreactor:", "op=SUBMIT_READ", "unit=r0-u1", "queue depth reached"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	// Reactor -1 must not leak into the message.
	if strings.Contains(msg, "reactor=") {
		t.Errorf("Error() = %q, reactor should be omitted", msg)
	}
}

func TestErrorReactorContext(t *testing.T) {
	err := NewReactorError("RUN", 3, ErrCodeShuttingDown, "draining")
	if !strings.Contains(err.Error(), "reactor=3") {
		t.Errorf("Error() = %q, missing reactor context", err.Error())
	}
}

func TestWrapErrorPreservesContext(t *testing.T) {
	inner := NewUnitError("SUBMIT_READ", "u1", ErrCodeDeviceError, "io failed")
	wrapped := WrapError("POLL", ErrCodeResourceExhausted, inner)

	if wrapped.Op != "POLL" {
		t.Errorf("Op = %q, want POLL", wrapped.Op)
	}
	// The wrapping caller's code wins; the inner error keeps its own.
	if wrapped.Code != ErrCodeResourceExhausted {
		t.Errorf("Code = %q, want %q", wrapped.Code, ErrCodeResourceExhausted)
	}
	if wrapped.WorkUnit != "u1" {
		t.Errorf("WorkUnit = %q, want u1", wrapped.WorkUnit)
	}

	// Both codes remain observable: the outer via As, the inner via the
	// unwrap chain.
	if !IsCode(wrapped, ErrCodeResourceExhausted) {
		t.Error("IsCode should report the outer code")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("inner error should stay reachable through the chain")
	}
}

func TestWrapErrorPlain(t *testing.T) {
	inner := fmt.Errorf("short read")
	wrapped := WrapError("SUBMIT_READ", ErrCodeDeviceError, inner)

	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
	if wrapped.Code != ErrCodeDeviceError {
		t.Errorf("Code = %q, want %q", wrapped.Code, ErrCodeDeviceError)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if err := WrapError("OP", ErrCodeDeviceError, nil); err != nil {
		t.Errorf("WrapError(nil) = %v, want nil", err)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("OPEN_QUEUE", ErrCodeResourceExhausted, "no queues left")

	if !IsCode(err, ErrCodeResourceExhausted) {
		t.Error("IsCode should match the error's code")
	}
	if IsCode(err, ErrCodeBusy) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrCodeBusy) {
		t.Error("IsCode(nil) should be false")
	}

	// Matching through wrapping layers.
	wrapped := fmt.Errorf("assign failed: %w", err)
	if !IsCode(wrapped, ErrCodeResourceExhausted) {
		t.Error("IsCode should match through fmt wrapping")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	a := NewError("A", ErrCodeBackpressure, "x")
	b := NewError("B", ErrCodeBackpressure, "y")
	if !errors.Is(a, b) {
		t.Error("errors with equal codes should match via errors.Is")
	}
}
