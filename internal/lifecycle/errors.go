package lifecycle

import (
	"fmt"
)

// Kind classifies a rejected request. Every kind is recoverable: nothing was written.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindIllegalTransition Kind = "illegal_transition"
	KindOutOfSequence     Kind = "out_of_sequence"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	// KindOrderConflict is transient; callers may retry.
	KindOrderConflict Kind = "order_conflict"
)

// Error is the typed failure returned by the engine.
type Error struct {
	Kind    Kind
	Message string
	TaskID  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.TaskID != "" {
		msg = fmt.Sprintf("%s (task %s)", msg, e.TaskID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the Err* sentinels by kind, so errors.Is(err, ErrOutOfSequence) works on any detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.TaskID == "" && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrOutOfSequence     = &Error{Kind: KindOutOfSequence}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrOrderConflict     = &Error{Kind: KindOrderConflict}
)

func newError(kind Kind, taskID string, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) *Error {
	return newError(KindValidation, "", format, args...)
}
