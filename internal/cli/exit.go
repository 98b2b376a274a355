package cli

import (
	"errors"
	"fmt"

	"github.com/kuitang/crmscenarios/internal/errs"
)

// ExitError carries the process exit status for a command error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: 2, Err: err}
}

func failedError(err error) error {
	return &ExitError{Code: 1, Err: err}
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return errs.ExitCode(err)
}
