package consumer

import (
	"fmt"
	"testing"
)

func TestRecoverableError(t *testing.T) {
	var err error
	err = NewRecoverableError("enqueue for %s failed", "u1")

	// Verify that we got the expected error message.
	if err.Error() != "enqueue for u1 failed" {
		t.Errorf("unexpected error message: %s", err.Error())
	}

	// Verify that a RecoverableError was actually returned.
	if _, ok := err.(RecoverableError); !ok {
		t.Errorf("The error doesn't appear to be a RecoverableError")
	}

	// The type must be distinct from an unrecoverable error.
	if IsUnrecoverable(err) {
		t.Errorf("The error appears to be an UnrecoverableError")
	}
}

func TestUnrecoverableError(t *testing.T) {
	var err error
	err = NewUnrecoverableError("decoding %s: %s", "payload", "unexpected EOF")

	if err.Error() != "decoding payload: unexpected EOF" {
		t.Errorf("unexpected error message: %s", err.Error())
	}

	if _, ok := err.(UnrecoverableError); !ok {
		t.Errorf("The error doesn't appear to be an UnrecoverableError")
	}

	if !IsUnrecoverable(err) {
		t.Errorf("IsUnrecoverable did not detect the error")
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("handler: %w", err)
	if !IsUnrecoverable(wrapped) {
		t.Errorf("IsUnrecoverable did not detect the wrapped error")
	}
}
