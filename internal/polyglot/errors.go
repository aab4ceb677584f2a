package polyglot

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is returned when the shared engine cannot be built
	ErrEngineUnavailable = errors.New("script engine unavailable")

	// ErrPermissionDenied is returned when a guest reaches for a host type
	// outside the policy allow-list
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTypeMismatch is returned when a guest value has no host shape
	ErrTypeMismatch = errors.New("type mismatch")
)

// EvalError is a guest-side failure: a syntax error, an uncaught exception or
// an interrupted evaluation
type EvalError struct {
	Language string
	Source   string
	Message  string
	Stack    string
	Err      error
}

func (e *EvalError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s script %s: %s", e.Language, e.Source, e.Message)
	}
	return fmt.Sprintf("%s script: %s", e.Language, e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// PermissionError builds the error guests receive for a rejected host type
func PermissionError(name string) error {
	return fmt.Errorf("host type %q: %w", name, ErrPermissionDenied)
}
