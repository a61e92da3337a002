package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode classifies application errors across the session and relay
// surfaces. Channel errors are retriable at user discretion, room errors
// are fatal to the current join attempt, negotiation errors are reported
// but do not necessarily end the session.
type ErrorCode string

const (
	ErrCodeChannelUnreachable  ErrorCode = "CHANNEL_UNREACHABLE"
	ErrCodeChannelTimeout      ErrorCode = "CHANNEL_TIMEOUT"
	ErrCodeChannelDisconnected ErrorCode = "CHANNEL_DISCONNECTED"
	ErrCodeRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomInvalidPassword ErrorCode = "ROOM_INVALID_PASSWORD"
	ErrCodeRoomFull            ErrorCode = "ROOM_FULL"
	ErrCodeRoomMalformed       ErrorCode = "ROOM_MALFORMED"
	ErrCodeNegotiationRejected ErrorCode = "NEGOTIATION_REJECTED"
	ErrCodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a machine code alongside the human-readable message and
// an HTTP status for the relay's REST surface.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewRoomNotFound(room string) *AppError {
	return New(ErrCodeRoomNotFound, fmt.Sprintf("room %s not found", room), http.StatusNotFound)
}

func NewInvalidPassword() *AppError {
	return New(ErrCodeRoomInvalidPassword, "invalid password", http.StatusForbidden)
}

func NewRoomFull(room string) *AppError {
	return New(ErrCodeRoomFull, fmt.Sprintf("room %s is full", room), http.StatusConflict)
}

func NewChannelTimeout(message string) *AppError {
	return New(ErrCodeChannelTimeout, message, http.StatusGatewayTimeout)
}

func NewPermissionDenied(message string) *AppError {
	return New(ErrCodePermissionDenied, message, http.StatusForbidden)
}

func NewInternal(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts an AppError from anywhere in the chain.
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	type unwrapper interface {
		Unwrap() error
	}
	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}
	return nil
}

// CodeOf returns the error's code, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
