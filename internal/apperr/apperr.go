// Package apperr holds the error taxonomy shared by the scheduling engine.
// Handlers translate these into HTTP status codes; everything else wraps them
// with fmt.Errorf("%w: ...").
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid marks malformed or missing input. Never retried.
	ErrInvalid = errors.New("invalid input")

	// ErrNotFound marks an unknown service, staff member, appointment or
	// tenant config. Cross-tenant reads surface as ErrNotFound so that the
	// existence of another tenant's record never leaks.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks a cross-tenant write attempt.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict marks an interval overlap on a booking write. The caller
	// must re-fetch availability and retry with a different slot; the engine
	// never retries a conflict internally.
	ErrConflict = errors.New("slot conflict")
)

func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
