package models

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, client-visible error kind.
type ErrorCode string

const (
	CodeAuthFailed        ErrorCode = "AuthFailed"
	CodeForbidden         ErrorCode = "Forbidden"
	CodeNotFound          ErrorCode = "NotFound"
	CodeRoomKindViolation ErrorCode = "RoomKindViolation"
	CodeValidation        ErrorCode = "ValidationError"
	CodeStoreUnavailable  ErrorCode = "StoreUnavailable"
	CodeRateLimited       ErrorCode = "RateLimited"
	CodeInternal          ErrorCode = "Internal"
)

// ChatError is returned by every chat operation that fails for a reason the
// caller should see.
type ChatError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Is matches any ChatError with the same code, so the sentinels below work
// with errors.Is.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	return ok && t.Code == e.Code
}

var (
	ErrAuthFailed        = &ChatError{Code: CodeAuthFailed, Message: "authentication failed"}
	ErrForbidden         = &ChatError{Code: CodeForbidden, Message: "not a participant of this room"}
	ErrNotFound          = &ChatError{Code: CodeNotFound, Message: "not found"}
	ErrRoomKindViolation = &ChatError{Code: CodeRoomKindViolation, Message: "operation not allowed for this room kind"}
	ErrValidation        = &ChatError{Code: CodeValidation, Message: "invalid request"}
	ErrStoreUnavailable  = &ChatError{Code: CodeStoreUnavailable, Message: "message store unavailable"}
	ErrRateLimited       = &ChatError{Code: CodeRateLimited, Message: "too many requests"}
)

// NewError builds a ChatError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *ChatError {
	return &ChatError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StoreError passes ChatErrors through and wraps everything else as
// StoreUnavailable.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return err
	}
	return &ChatError{Code: CodeStoreUnavailable, Message: "message store unavailable", Err: err}
}

// CodeOf extracts the ErrorCode carried by err.
func CodeOf(err error) ErrorCode {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// ErrorResponse is the JSON body for errors on both REST and the live channel.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ResponseOf converts err to its wire form. Internal details of wrapped
// errors are not exposed.
func ResponseOf(err error) *ErrorResponse {
	var ce *ChatError
	if errors.As(err, &ce) {
		return &ErrorResponse{Code: ce.Code, Message: ce.Message}
	}
	return &ErrorResponse{Code: CodeInternal, Message: "internal error"}
}
