package codec

import (
	"errors"
	"fmt"
)

// ErrorCode classifies wire format failures
type ErrorCode string

const (
	CodeInvalidEncoding   ErrorCode = "INVALID_ENCODING"
	CodeInvalidMessage    ErrorCode = "INVALID_MESSAGE"
	CodeMissingSignatures ErrorCode = "MISSING_SIGNATURES"
	CodeIndexOutOfRange   ErrorCode = "INDEX_OUT_OF_RANGE"
	CodeInvalidSignature  ErrorCode = "INVALID_SIGNATURE"
)

// Error is returned for malformed or truncated wire input
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err is a codec error with the given code
func HasCode(err error, code ErrorCode) bool {
	var codecErr *Error
	if errors.As(err, &codecErr) {
		return codecErr.Code == code
	}
	return false
}
