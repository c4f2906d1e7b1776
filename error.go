package campaign

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the expected failure modes surfaced by the core.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// NotFound covers missing branches, versions, entities and campaigns.
	// Access failures are also reported as NotFound to avoid enumeration.
	NotFound
	// BadRequest covers invalid arguments, already-resolved targets,
	// protected-field patch attempts and invalid intervals.
	BadRequest
	// InvalidAncestor signals a merge whose commonAncestorId is not actually
	// an ancestor of both branches.
	InvalidAncestor
	// UnresolvedConflicts signals a merge/cherry-pick with conflicts not
	// matched by a supplied resolution.
	UnresolvedConflicts
	// BeforeDivergence signals a version with validFrom earlier than its
	// branch's divergence point.
	BeforeDivergence
	// WriteConflict signals a write-write race detected at commit.
	WriteConflict
	// Transient covers I/O timeouts and connection errors; safe to retry.
	Transient
	// NotImplemented marks reserved APIs not yet available.
	NotImplemented
	// LockAcquisitionFailure signals failure to acquire the write-range lock.
	LockAcquisitionFailure
)

// Error is the custom error type carrying a failure classification and
// optional caller data.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, user data: %v, details: %v", e.Code, e.UserData, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given classification.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// Errorf is a NewError convenience taking a format string.
func Errorf(code ErrorCode, format string, a ...any) Error {
	return Error{Code: code, Err: fmt.Errorf(format, a...)}
}

// CodeOf extracts the ErrorCode from err, or Unknown when err carries none.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsCode reports whether err carries the given classification.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
