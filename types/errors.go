package types

import (
	"errors"
	"fmt"
)

// ErrStopped is returned from yield points once the owning session has been
// stopped. Loops unwind promptly on it; it is a control signal, not a
// failure.
var ErrStopped = errors.New("training stopped")

// ConfigurationError reports a malformed option detected at construction,
// before any simulation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// ConfigErrorf builds a ConfigurationError for the given field.
func ConfigErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ShapeMismatchError reports an observation or action whose length disagrees
// with the declared layout. Fatal to the call that produced it; never
// silently coerced.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s length mismatch: want %d, got %d", e.What, e.Want, e.Got)
}

// EnvironmentError wraps a failure propagated from the environment
// collaborator. The engine does not interpret it; it only surfaces it and
// halts the rollout instance it came from.
type EnvironmentError struct {
	Rollout int
	Err     error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment failure on rollout %d: %v", e.Rollout, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}
