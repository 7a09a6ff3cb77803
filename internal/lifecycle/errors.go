package lifecycle

import "errors"

// Domain-specific errors for service lifecycle operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrServiceNotFound is returned when a named service is not registered.
	ErrServiceNotFound = errors.New("lifecycle: service not found")

	// ErrDependencyCycle is returned when initialize/start would recurse
	// through a dependency cycle.
	ErrDependencyCycle = errors.New("lifecycle: dependency cycle detected")

	// ErrInitializeFailed is returned when a service's initialize hook fails.
	ErrInitializeFailed = errors.New("lifecycle: initialize failed")

	// ErrStartFailed is returned when a service's start hook fails.
	ErrStartFailed = errors.New("lifecycle: start failed")

	// ErrStopFailed is returned when a service's stop hook fails.
	ErrStopFailed = errors.New("lifecycle: stop failed")
)
