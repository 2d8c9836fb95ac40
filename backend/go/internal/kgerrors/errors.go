// Package kgerrors defines the failure taxonomy shared by the ingestion pipeline.
//
// Errors are classified by marking them with one of the sentinel kinds, so the
// classification survives further wrapping with fmt.Errorf or errors.Wrap.
package kgerrors

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrTransientIO marks store or network unavailability. Always retried.
	ErrTransientIO = errors.New("transient io")
	// ErrAmbiguousResolution marks a low-confidence entity match.
	ErrAmbiguousResolution = errors.New("ambiguous resolution")
	// ErrConflictingFact marks a conflict that was settled by supersession.
	ErrConflictingFact = errors.New("conflicting fact")
	// ErrInvariantViolation marks a write that would break the single-current-fact invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNotFound is returned by lookups of unknown ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCandidate marks a candidate rejected at the queue boundary.
	ErrInvalidCandidate = errors.New("invalid candidate")
	// ErrInvalidArgument marks a malformed query or admin request.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks a feature whose backend is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// Transient wraps err and marks it as TransientIO.
func Transient(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTransientIO)
}

// Invariant builds an InvariantViolation error.
func Invariant(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvariantViolation)
}

// Stale builds an error for a write that lost a race with another writer of
// the same slot. It is a conflict, and retrying re-arbitrates it.
func Stale(format string, args ...interface{}) error {
	return errors.Mark(errors.Mark(errors.Newf(format, args...), ErrConflictingFact), ErrTransientIO)
}

// Invalid wraps a validation failure.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "candidate rejected"), ErrInvalidCandidate)
}

// InvalidArgument builds an invalid-argument error.
func InvalidArgument(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

// Unavailable builds an error for a disabled feature.
func Unavailable(feature string) error {
	return errors.Mark(errors.Newf("%s is not configured", feature), ErrUnavailable)
}

// NotFound builds a not-found error for the given kind and id.
func NotFound(kind, id string) error {
	return errors.Mark(errors.Newf("%s %q not found", kind, id), ErrNotFound)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientIO) }

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariantViolation) }

// IsConflictingFact reports whether err is a lost race for a slot.
func IsConflictingFact(err error) bool { return errors.Is(err, ErrConflictingFact) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidArgument reports whether err is a rejected query or request.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsUnavailable reports whether err names a disabled feature.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsInvalid reports whether err is a validation failure.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalidCandidate) }

// Kind returns a short label for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTransient(err):
		return "transient_io"
	case IsInvariantViolation(err):
		return "invariant_violation"
	case IsInvalid(err):
		return "invalid_candidate"
	case IsInvalidArgument(err):
		return "invalid_argument"
	case IsNotFound(err):
		return "not_found"
	case IsUnavailable(err):
		return "unavailable"
	case errors.Is(err, ErrAmbiguousResolution):
		return "ambiguous_resolution"
	case errors.Is(err, ErrConflictingFact):
		return "conflicting_fact"
	default:
		return "internal"
	}
}
