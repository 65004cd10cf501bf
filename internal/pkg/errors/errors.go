package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidScope is returned on a field write against the wrong scope.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrReadOnlyAuthored is returned on a write to an authored field.
	ErrReadOnlyAuthored = errors.New("authored field is read-only")
	// ErrFieldNotFound is returned by a field-data layer that has no value,
	// letting the caller fall through to the next layer or the default.
	ErrFieldNotFound = errors.New("field not found")

	ErrNoSuchPartition = errors.New("no such partition")
	ErrNoSuchGroup     = errors.New("no such group")
	ErrNoSuchService   = errors.New("no such service")

	// ErrRebindNotAllowed is returned when a block already bound to a real
	// learner is asked to rebind.
	ErrRebindNotAllowed = errors.New("rebind not allowed")

	ErrHandlerMissing  = errors.New("handler missing")
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidKey      = errors.New("invalid key")

	// ErrMalformedGraderHeader is returned when an xqueue callback carries a
	// header that is missing, unparseable, or lacks lms_key.
	ErrMalformedGraderHeader = errors.New("malformed grader header")
)

// AccessDeniedError carries the outcome of a failed access check. A nil
// UserMessage means the denial is silent and the block must not be returned.
type AccessDeniedError struct {
	Code         string
	UserMessage  string
	UserFragment string
}

func (e *AccessDeniedError) Error() string {
	if e.UserMessage != "" {
		return fmt.Sprintf("access denied (%s): %s", e.Code, e.UserMessage)
	}
	return fmt.Sprintf("access denied (%s)", e.Code)
}

// HasUserMessage reports whether the denial can be surfaced in place of the
// block's content.
func (e *AccessDeniedError) HasUserMessage() bool {
	return e.UserMessage != "" || e.UserFragment != ""
}

// ProcessingError is raised by a block handler for a user-correctable
// problem; the dispatcher converts it to HTTP 200 with {success: msg}.
type ProcessingError struct {
	Msg string
}

func (e *ProcessingError) Error() string { return e.Msg }

// UploadError rejects an over-limit file upload; converts to HTTP 413.
type UploadError struct {
	Msg string
}

func (e *UploadError) Error() string { return e.Msg }
