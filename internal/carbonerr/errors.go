// Package carbonerr classifies errors into the kinds the two front-ends map
// to distinct wire responses (spec §7). It layers on top of pkg/errors the
// way the teacher layers stackerr.Wrap around plain errors, but adds a Kind
// so HTTP and TCP adapters can translate without string matching.
package carbonerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a coarse error classification shared by both front-ends.
type Kind int

const (
	Internal Kind = iota
	NotFound
	AlreadyExists
	InvalidArgument
	InsufficientCapacity
	Unauthorized
	Forbidden
	ProtocolError
	IoError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidArgument:
		return "InvalidArgument"
	case InsufficientCapacity:
		return "InsufficientCapacity"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case ProtocolError:
		return "ProtocolError"
	case IoError:
		return "IoError"
	case Timeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// Error pairs a Kind with a wrapped cause, preserving pkg/errors' stack
// trace on the cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error from a message.
func New(k Kind, msg string) error {
	return &Error{Kind: k, cause: errors.New(msg)}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, cause: errors.Errorf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving its stack via
// pkg/errors.WithStack when the error doesn't already carry one.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, cause: errors.WithStack(err)}
}

// KindOf extracts the Kind from err, defaulting to Internal for plain
// errors that never passed through this package.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }
