package connection

import (
	"errors"
	"strings"
)

var (
	// ErrSuperseded is returned by a connect attempt that was overtaken by a
	// newer attempt or a disconnect. Its result was discarded.
	ErrSuperseded = errors.New("connection attempt superseded")

	ErrNotConnected     = errors.New("wallet not connected")
	ErrNoAccounts       = errors.New("wallet returned no accounts")
	ErrConnectRequired  = errors.New("wallet does not support standard:connect")
	ErrAccountNotFound  = errors.New("account not found in wallet session")
	ErrSilentNoAccounts = errors.New("silent connect returned no authorized accounts and interactive fallback is disabled")
)

// Error is a failed connection attempt as recorded in Status
type Error struct {
	Err         error
	Recoverable bool
	ConnectorID string
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// coder is implemented by provider errors carrying an EIP-1193 style code
type coder interface {
	Code() int
}

// userRejectedCode is the provider error code for a rejected request
const userRejectedCode = 4001

var rejectionPhrases = []string{"user rejected", "rejected", "cancel", "denied", "declined", "4001"}

// IsRecoverable reports whether err means the user turned the request down
// rather than something breaking
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) && c.Code() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func newError(err error, connectorID string) *Error {
	return &Error{Err: err, Recoverable: IsRecoverable(err), ConnectorID: connectorID}
}
