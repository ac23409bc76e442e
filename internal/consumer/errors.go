package consumer

import (
	"errors"
	"fmt"
)

// RecoverableError is an error that is explicitly marked as recoverable. The
// dispatcher gives the record back to the bus for redelivery.
type RecoverableError struct {
	message string
}

// Error returns the error message for a RecoverableError.
func (e RecoverableError) Error() string {
	return e.message
}

// NewRecoverableError returns a new error that is marked as being recoverable.
func NewRecoverableError(formatString string, a ...interface{}) RecoverableError {
	return RecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// UnrecoverableError is an error that we do not expect to be able to recover
// from, such as a payload that can never be decoded. The record is
// dead-lettered without retry.
type UnrecoverableError struct {
	message string
}

// Error returns the error message for an UnrecoverableError.
func (e UnrecoverableError) Error() string {
	return e.message
}

// NewUnrecoverableError returns a new error that is marked as being unrecoverable.
func NewUnrecoverableError(formatString string, a ...interface{}) UnrecoverableError {
	return UnrecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// IsUnrecoverable reports whether err, or anything it wraps, is an UnrecoverableError.
func IsUnrecoverable(err error) bool {
	var u UnrecoverableError
	return errors.As(err, &u)
}
