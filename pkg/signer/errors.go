package signer

import (
	"errors"
	"fmt"
)

// ErrorCode classifies signer failures
type ErrorCode string

const (
	CodeWalletNotConnected  ErrorCode = "WALLET_NOT_CONNECTED"
	CodeFeatureNotSupported ErrorCode = "FEATURE_NOT_SUPPORTED"
	CodeSigningFailed       ErrorCode = "SIGNING_FAILED"
	CodeSendFailed          ErrorCode = "SEND_FAILED"
)

// Sentinels for errors.Is; they match any *Error with the same code
var (
	ErrWalletNotConnected  = &Error{Code: CodeWalletNotConnected}
	ErrFeatureNotSupported = &Error{Code: CodeFeatureNotSupported}
	ErrSigningFailed       = &Error{Code: CodeSigningFailed}
	ErrSendFailed          = &Error{Code: CodeSendFailed}
)

// Error is returned by every Signer operation
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches bare code sentinels such as ErrSigningFailed
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Cause != nil {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// HasCode reports whether err is a signer error with the given code
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
