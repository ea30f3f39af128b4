package i18n

import (
	"errors"
	"net/http"
)

// ErrorCode represents an HTTP status code
type ErrorCode int

const (
	ErrorBadRequest         ErrorCode = http.StatusBadRequest
	ErrorNotFound           ErrorCode = http.StatusNotFound
	ErrorInternalServer     ErrorCode = http.StatusInternalServerError
	ErrorServiceUnavailable ErrorCode = http.StatusServiceUnavailable
)

// ErrorWithCode is a translatable error carrying its HTTP status
type ErrorWithCode struct {
	MessageID string
	Code      ErrorCode
	Data      map[string]any
	cause     error
}

// NewErrorWithCode creates a new error with a code
func NewErrorWithCode(messageID string, code ErrorCode) *ErrorWithCode {
	return &ErrorWithCode{
		MessageID: messageID,
		Code:      code,
	}
}

// WithParam returns a copy with key set in the template data
func (e *ErrorWithCode) WithParam(key string, value any) *ErrorWithCode {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Data[key] = value
	return &cp
}

// Wrap returns a copy that unwraps to cause
func (e *ErrorWithCode) Wrap(cause error) *ErrorWithCode {
	cp := *e
	cp.cause = cause
	return &cp
}

// Error implements the error interface
func (e *ErrorWithCode) Error() string {
	if e.cause != nil {
		return e.MessageID + ": " + e.cause.Error()
	}
	return e.MessageID
}

// Unwrap returns the wrapped cause
func (e *ErrorWithCode) Unwrap() error {
	return e.cause
}

// Is matches errors built from the same predefined error
func (e *ErrorWithCode) Is(target error) bool {
	var t *ErrorWithCode
	if !errors.As(target, &t) {
		return false
	}
	return t.MessageID == e.MessageID
}
