package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRecorded   = errors.New("already recorded")
	ErrStaleEvaluation   = errors.New("evaluation no longer matches the stored answer")
	ErrValidation        = errors.New("validation failed")
	ErrRoomFull          = errors.New("room is full")
	ErrNotMember         = errors.New("connection is not a member of the room")
	ErrQueueFull         = errors.New("evaluation queue is full")
	ErrQueueClosed       = errors.New("evaluation queue is closed")
	ErrUnknownQuestion   = errors.New("question is not stored for the session")
	ErrForbidden         = errors.New("not allowed for this participant role")
)

// ErrorCode is the stable code exposed to clients.
type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeValidation        ErrorCode = "VALIDATION_FAILED"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadyRecorded   ErrorCode = "ALREADY_RECORDED"
	ErrCodeRoomFull          ErrorCode = "ROOM_FULL"
	ErrCodeNotMember         ErrorCode = "NOT_MEMBER"
	ErrCodeUnknownQuestion   ErrorCode = "UNKNOWN_QUESTION"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodePersistence       ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeEvaluation        ErrorCode = "EVALUATION_FAILED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// StandardError is a structured application error. It wraps the sentinel it
// was built from so errors.Is keeps working across layers.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// NewValidationError creates a non-retryable input error.
func NewValidationError(format string, args ...any) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   fmt.Sprintf(format, args...),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     ErrValidation,
	}
}

// NewPersistenceError marks a storage failure on a path the caller may retry.
func NewPersistenceError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistence,
		Message:   fmt.Sprintf("%s failed", op),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewEvaluationError wraps a failure of the external evaluation service.
func NewEvaluationError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEvaluation,
		Message:   "answer evaluation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// Normalize converts any error into a StandardError.
func Normalize(err error) *StandardError {
	var std *StandardError
	if errors.As(err, &std) {
		return std
	}

	code, retryable := ErrCodeInternal, false
	switch {
	case errors.Is(err, ErrNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, ErrValidation):
		code = ErrCodeValidation
	case errors.Is(err, ErrConflict):
		code, retryable = ErrCodeConflict, true
	case errors.Is(err, ErrInvalidTransition):
		code = ErrCodeInvalidTransition
	case errors.Is(err, ErrAlreadyRecorded):
		code = ErrCodeAlreadyRecorded
	case errors.Is(err, ErrRoomFull):
		code = ErrCodeRoomFull
	case errors.Is(err, ErrNotMember):
		code = ErrCodeNotMember
	case errors.Is(err, ErrForbidden):
		code = ErrCodeForbidden
	case errors.Is(err, ErrUnknownQuestion):
		code, retryable = ErrCodeUnknownQuestion, true
	}

	return &StandardError{
		Code:      code,
		Message:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// RetryOnConflict runs fn until it stops returning ErrConflict or the attempts
// are used up. The last conflict is surfaced as a persistence error.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return NewPersistenceError(fmt.Sprintf("update after %d attempts", attempts), err)
}
