// Package failure defines the error taxonomy of a pipeline run. Every fatal
// condition is one of a small set of kinds, each with its own process exit
// code and a message prefix that tells an operator which gate tripped.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal pipeline error.
type Kind int

const (
	// Unknown is any error that was not classified.
	Unknown Kind = iota
	// MissingInput means a required build input was absent at materialization.
	MissingInput
	// InstallFailure means a dependency failed to resolve or install.
	InstallFailure
	// TestFailure means the test suite reported failing cases.
	TestFailure
	// LaunchFailure means the entry point was missing or the port was unbindable.
	LaunchFailure
	// PromotionRefused means no verified test result exists for a production layer.
	PromotionRefused
	// InvalidConfig means the pipeline definition or process flags were invalid.
	InvalidConfig
)

// Prefix returns the message prefix printed for this kind.
func (k Kind) Prefix() string {
	switch k {
	case MissingInput:
		return "missing input"
	case InstallFailure:
		return "install failed"
	case TestFailure:
		return "tests failed"
	case LaunchFailure:
		return "launch failed"
	case PromotionRefused:
		return "promotion refused"
	case InvalidConfig:
		return "invalid configuration"
	}
	return "error"
}

// ExitCode returns the process exit code for this kind.
func (k Kind) ExitCode() int {
	switch k {
	case TestFailure:
		return 1
	case InvalidConfig:
		return 2
	case MissingInput:
		return 3
	case InstallFailure:
		return 4
	case LaunchFailure:
		return 5
	case PromotionRefused:
		return 6
	}
	return 1
}

func (k Kind) String() string {
	return k.Prefix()
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "materialize" or "install requests==2.31".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind.Prefix(), e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind.Prefix(), e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps any error to a process exit code. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
