// Package execerr defines the error taxonomy shared by every execution
// engine component, so the HTTP layer can classify a failure without
// inspecting strings.
package execerr

import "errors"

// Sentinel errors for the conditions spec'd in the error-handling design.
// Wrap with fmt.Errorf("...: %w", Err*) to attach context; classify with
// the Is* helpers below rather than errors.Is directly, since most call
// sites want "is this broadly a conflict" not "is this this exact value".
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrConflict            = errors.New("concurrent modification")
	ErrValidation          = errors.New("validation failed")
	ErrExecution           = errors.New("execution error")
	ErrExecutionTimeout    = errors.New("execution timed out")
	ErrResourceAllocation  = errors.New("resource allocation error")
)

// IsNotFound reports whether err (or anything it wraps) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidTransition reports whether err is an illegal state transition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsResourceAllocation reports whether err stems from queue exhaustion/pause.
func IsResourceAllocation(err error) bool { return errors.Is(err, ErrResourceAllocation) }
