package session

import (
	"errors"
	"fmt"
)

// ErrorCode discriminates the expected domain failures of the coordinator.
// These are returned, never panicked, and carry human-readable messages.
type ErrorCode string

const (
	ErrCodeInvalidCode   ErrorCode = "INVALID_ROOM_CODE"
	ErrCodeInvalidName   ErrorCode = "INVALID_NAME"
	ErrCodeNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeExpired       ErrorCode = "SESSION_EXPIRED"
	ErrCodeRoomFull      ErrorCode = "ROOM_FULL"
	ErrCodeInvalidReveal ErrorCode = "INVALID_REVEAL"
	ErrCodeInternal      ErrorCode = "INTERNAL"
)

// DomainError is a typed, expected failure from a coordinator operation.
type DomainError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the domain error code from err, or ErrCodeInternal when the
// error is not a DomainError.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code && err != nil
}
