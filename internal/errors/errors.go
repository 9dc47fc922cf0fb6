package errors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeUsage     ErrorType = "USAGE"
	ErrorTypeIO        ErrorType = "IO"
	ErrorTypeInvariant ErrorType = "INVARIANT"
	ErrorTypeNotFound  ErrorType = "NOT_FOUND"
)

// Error carries the failure class and the repository operation that was
// being attempted when it happened.
type Error struct {
	Type    ErrorType `json:"type"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Usage(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeUsage,
		Message: fmt.Sprintf(format, args...),
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

func Invariant(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeInvariant,
		Message: fmt.Sprintf(format, args...),
	}
}

// IO wraps a storage failure.
func IO(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIO,
		Message: message,
		Err:     err,
	}
}

// Wrap records op on err. Typed errors keep their type, anything else is
// treated as an IO failure since that is all the lower layers produce.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return &Error{Type: typed.Type, Op: op, Err: err}
	}
	return &Error{Type: ErrorTypeIO, Op: op, Err: err}
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var typed *Error
	for err != nil {
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Type == t {
			return true
		}
		err = typed.Err
	}
	return false
}
