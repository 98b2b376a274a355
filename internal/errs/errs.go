package errs

import (
	"errors"
)

// Code is a scenario failure kind.
type Code string

const (
	Navigation       Code = "navigation_error"
	LocatorNotFound  Code = "locator_not_found"
	StepTimeout      Code = "step_timeout"
	AssertionFailure Code = "assertion_failure"
	Teardown         Code = "teardown_error"
	InvalidScenario  Code = "invalid_scenario"
	Launch           Code = "launch_error"
	Action           Code = "action_error"
	Canceled         Code = "canceled"
	Internal         Code = "internal"
)

// Error is a coded scenario error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the outermost error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Err
	}
	return false
}

// MessageOf returns the message of the outermost coded error.
// Untyped errors fall back to their own text so failures stay diagnosable.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// ExitCode maps an error to a process exit code: 0 pass, 1 scenario failure,
// 2 for configuration and fixture problems.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case InvalidScenario, Internal:
		return 2
	default:
		return 1
	}
}
