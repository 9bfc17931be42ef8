package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/ncflow/internal/domain"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeValidation indicates no transition-table row matches, or the
	// payload is incomplete.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeAuthorization indicates the actor lacks the role, relationship
	// or field access the operation needs.
	CodeAuthorization ErrorCode = "AUTHORIZATION"

	// CodeNotFound indicates an unknown record or user.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates a stale version on write.
	CodeConflict ErrorCode = "CONCURRENCY_CONFLICT"

	// CodeNotification indicates a failed delivery. Never fatal.
	CodeNotification ErrorCode = "NOTIFICATION_FAILURE"

	// CodeConfiguration indicates missing collaborator wiring.
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// CodePersistence indicates the store failed.
	CodePersistence ErrorCode = "PERSISTENCE"
)

// Error is returned by every engine operation.
//
// Message is suitable for direct display to the user.
type Error struct {
	Code     ErrorCode
	Message  string
	RecordID string
	Action   domain.Action
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RecordID != "" && e.Action != "" {
		msg = fmt.Sprintf("%s (record=%s, action=%s)", msg, e.RecordID, e.Action)
	} else if e.RecordID != "" {
		msg = fmt.Sprintf("%s (record=%s)", msg, e.RecordID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) on(recordID string, action domain.Action) *Error {
	e.RecordID = recordID
	e.Action = action
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf returns the code of an engine error, or "" for other errors.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Message returns the display message of an engine error, or err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsAuthorization reports whether err is an authorization error.
func IsAuthorization(err error) bool { return CodeOf(err) == CodeAuthorization }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsNotification reports whether err is a notification failure.
func IsNotification(err error) bool { return CodeOf(err) == CodeNotification }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool { return CodeOf(err) == CodePersistence }

// storeError maps a store failure onto the engine taxonomy.
func storeError(err error, recordID string) *Error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newError(CodeNotFound, "Record %s was not found", recordID).wrap(err)
	case errors.Is(err, domain.ErrVersionConflict):
		return newError(CodeConflict, "Record %s was changed by someone else; reload and try again", recordID).wrap(err)
	default:
		return newError(CodePersistence, "Could not save record %s", recordID).wrap(err)
	}
}
