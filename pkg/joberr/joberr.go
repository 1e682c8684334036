// Package joberr classifies job handler failures.
//
// Errors wrapped with Permanent are never retried by the scheduler; any other
// error consumes one attempt of the job's retry budget.
package joberr

import (
	"errors"
	"fmt"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	if e.err == nil {
		return "permanent error"
	}
	return e.err.Error()
}

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// Permanentf formats a new non-retryable error.
func Permanentf(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
