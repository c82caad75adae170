package appointment

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every *Error wraps exactly one of these so callers can branch
// with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidSlot       = errors.New("invalid time slot")
	ErrSlotConflict      = errors.New("time slot already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("appointment not found")
	ErrForbidden         = errors.New("forbidden")

	// ErrStorage marks persistence failures. Callers should retry the whole
	// operation later.
	ErrStorage = errors.New("storage unavailable")
)

// Error codes surfaced to API clients.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeInvalidSlot       = "INVALID_SLOT"
	CodeSlotConflict      = "SLOT_CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeStorage           = "STORAGE_UNAVAILABLE"
)

// Error is a domain error with a stable code and a human readable message.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	kind    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.kind }

func validationError(fields ...string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "missing or invalid fields: " + strings.Join(fields, ", "),
		Fields:  fields,
		kind:    ErrValidation,
	}
}

func invalidSlotError(slot string) *Error {
	return &Error{
		Code:    CodeInvalidSlot,
		Message: fmt.Sprintf("time slot %q is not offered by this clinic", slot),
		Fields:  []string{"time_slot"},
		kind:    ErrInvalidSlot,
	}
}

func slotConflictError(doctorID string, date Date, slot string) *Error {
	return &Error{
		Code:    CodeSlotConflict,
		Message: fmt.Sprintf("doctor %s is already booked on %s at %s", doctorID, date, slot),
		kind:    ErrSlotConflict,
	}
}

func invalidTransitionError(current, target Status) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot move appointment from %s to %s", current, target),
		kind:    ErrInvalidTransition,
	}
}

func notFoundError(what, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", what, id),
		kind:    ErrNotFound,
	}
}

func forbiddenError(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg, kind: ErrForbidden}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
