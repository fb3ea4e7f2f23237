package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeConflict        = "conflict"
	ErrCodeNotFound        = "not_found"
	ErrCodeForbidden       = "forbidden"
	ErrCodeInvalidArgument = "invalid_argument"
	ErrCodeInternal        = "internal"
)

// Expected outcomes. Anything else returned by a store is treated as a
// transient store failure.
var (
	ErrConflict        = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// ErrorCode maps err to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	default:
		return ErrCodeInternal
	}
}

// AsCoreError converts err into a CoreError suitable for clients.
// Internal errors are reported without their details.
func AsCoreError(err error) *CoreError {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr
	}
	code := ErrorCode(err)
	if code == ErrCodeInternal {
		return &CoreError{Code: code, Message: "internal error"}
	}
	return &CoreError{Code: code, Message: err.Error()}
}
