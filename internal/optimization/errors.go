package optimization

import (
	"errors"
	"fmt"
)

// Configuration errors reported by optimizer constructors. Match them with
// errors.Is; constructors wrap them with operation context.
var (
	// ErrInvalidAcceleration is returned when the acceleration factor is
	// zero, negative, NaN or infinite. A zero factor would divide by zero
	// while building the candidate moves.
	ErrInvalidAcceleration = errors.New("acceleration must be a positive finite number")

	// ErrNilParams is returned when no parameter vector is supplied.
	ErrNilParams = errors.New("parameter vector is nil")

	// ErrNilScorer is returned when no scorer is supplied.
	ErrNilScorer = errors.New("scorer is nil")

	// ErrNoStartingPoint is returned when neither initial values nor bounds
	// describe where a run should begin.
	ErrNoStartingPoint = errors.New("either initial parameters or bounds are required")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	prefix := e.Component
	switch {
	case e.Component != "" && e.Op != "":
		prefix = e.Component + ": " + e.Op
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}

	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsOptimizationError reports whether err, or any error it wraps, is an
// *Error and returns the first one found.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
