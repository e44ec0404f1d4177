package uboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies protocol failures.
type Kind int

// Protocol failure kinds.
const (
	// KindTimeout means a bounded wait used up its retries.
	KindTimeout Kind = iota + 1
	// KindSignal means the board reported an explicit failure.
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindSignal:
		return "failure reported by target"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProtocolError is returned when a console exchange fails.
type ProtocolError struct {
	Op     string
	Kind   Kind
	Detail string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func timeoutError(op, format string, args ...interface{}) error {
	return &ProtocolError{Op: op, Kind: KindTimeout, Detail: fmt.Sprintf(format, args...)}
}

func signalError(op, format string, args ...interface{}) error {
	return &ProtocolError{Op: op, Kind: KindSignal, Detail: fmt.Sprintf(format, args...)}
}

// ErrAborted is returned when the operator aborted a wait.
var ErrAborted = errors.New("aborted by operator")

// IsTimeout reports whether err is a protocol timeout.
func IsTimeout(err error) bool {
	return hasKind(err, KindTimeout)
}

// IsSignal reports whether err is an explicit failure from the target.
func IsSignal(err error) bool {
	return hasKind(err, KindSignal)
}

func hasKind(err error, kind Kind) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Kind == kind
}
