// ABOUTME: Error taxonomy shared by the planner, executor, and remote clients.
// ABOUTME: Typed errors carry detail; sentinels let callers classify with errors.Is.
package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound classifies missing records, including a missing archived source.
	ErrNotFound = errors.New("not found")

	// ErrConflict classifies optimistic-lock failures and busy entities.
	ErrConflict = errors.New("conflict")

	// ErrValidation classifies malformed requests and planning options.
	ErrValidation = errors.New("validation failed")

	// ErrRemote classifies failures reported by the content or index services.
	ErrRemote = errors.New("remote operation failed")
)

// NotFoundError indicates a referenced record does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError indicates a save lost an optimistic-lock race or the record is busy.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError indicates malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RemoteOperationError indicates a content or index service call failed.
// StatusCode is zero when the failure was reported by an async task or the
// request never produced a response.
type RemoteOperationError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteOperationError) Error() string {
	msg := e.Op + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteOperationError) Unwrap() error { return e.Err }

func (e *RemoteOperationError) Is(target error) bool { return target == ErrRemote }
