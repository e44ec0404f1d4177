package bootstrap

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/robotalks/uloader/pkg/uboot"
)

// ConfigError is a problem with the invocation or the host, detected
// before or outside the dialogue with the board.
type ConfigError struct {
	Err error
}

// Error implements error.
func (e *ConfigError) Error() string {
	return e.Err.Error()
}

// Cause returns the underlying error.
func (e *ConfigError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Err: errors.Errorf(format, args...)}
}

// PhaseError tells which phase failed.
type PhaseError struct {
	Phase string
	Err   error
}

// Error implements error.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

// Cause returns the underlying error.
func (e *PhaseError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err comes from a ConfigError.
func IsConfigError(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}

// IsAborted reports whether the operator aborted the run, either inside a
// wait or by stopping the process between phases.
func IsAborted(err error) bool {
	return errors.Is(err, uboot.ErrAborted) || errors.Is(err, context.Canceled)
}
