// Package errs defines the error taxonomy shared by the engine packages.
//
// Every synchronous failure returned by the engine facade is an *Error with
// a Code. Callers match on the code with errors.Is against the package
// sentinels, or with the IsXxx helpers, which also see through wrapping:
//
//	if errors.Is(err, errs.ErrEngineNotRunning) {
//	    // retry once the engine reports running
//	}
//
// Stream-level failures are never returned from here; they are delivered
// through the stream's terminal callback.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeConfigInvalid indicates the configuration failed validation.
	// Fatal to startup and always reported synchronously.
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// CodeEngineNotRunning indicates the operation needs a running engine.
	// Recoverable: the caller may retry once the engine is running.
	CodeEngineNotRunning Code = "ENGINE_NOT_RUNNING"

	// CodeDuplicateRegistration indicates a name is already registered.
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"

	// CodeAlreadyStarted indicates runWithConfig was called twice.
	CodeAlreadyStarted Code = "ALREADY_STARTED"

	// CodeNotRegistered indicates an unregister of an unknown name.
	CodeNotRegistered Code = "NOT_REGISTERED"
)

// Error is a coded engine error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the facade operation that failed (e.g. "start_stream").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
// A target carrying an Op only matches errors from that operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// Sentinels for errors.Is matching.
var (
	ErrConfigInvalid         = &Error{Code: CodeConfigInvalid}
	ErrEngineNotRunning      = &Error{Code: CodeEngineNotRunning}
	ErrDuplicateRegistration = &Error{Code: CodeDuplicateRegistration}
	ErrAlreadyStarted        = &Error{Code: CodeAlreadyStarted}
	ErrNotRegistered         = &Error{Code: CodeNotRegistered}
)

// New creates a coded error for an operation.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// NotRunning creates an EngineNotRunning error for op, recording the state
// the engine was observed in.
func NotRunning(op, state string) *Error {
	return &Error{Code: CodeEngineNotRunning, Op: op, Message: "engine is " + state}
}

// CodeOf extracts the code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigInvalid returns true if err is a ConfigInvalid error.
func IsConfigInvalid(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}

// IsEngineNotRunning returns true if err is an EngineNotRunning error.
func IsEngineNotRunning(err error) bool {
	return errors.Is(err, ErrEngineNotRunning)
}

// IsDuplicateRegistration returns true if err is a DuplicateRegistration error.
func IsDuplicateRegistration(err error) bool {
	return errors.Is(err, ErrDuplicateRegistration)
}
