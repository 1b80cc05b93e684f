package common

import "errors"

// Error codes for failures surfaced to the terminal operator.
const (
	CodeLookupFailed         = "LOOKUP_FAILED"
	CodeOrderSubmitFailed    = "ORDER_SUBMIT_FAILED"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeInvalidCommand       = "INVALID_COMMAND"
	CodeOutOfRange           = "OUT_OF_RANGE"
)

// Sentinel kinds. Any TerminalError with the same code matches them through errors.Is.
var (
	ErrLookupFailed         = &TerminalError{Code: CodeLookupFailed, Message: "card lookup failed"}
	ErrOrderSubmitFailed    = &TerminalError{Code: CodeOrderSubmitFailed, Message: "order submission failed"}
	ErrTransportUnavailable = &TerminalError{Code: CodeTransportUnavailable, Message: "scanner transport unavailable"}
	ErrInvalidCommand       = &TerminalError{Code: CodeInvalidCommand, Message: "invalid command"}
	ErrOutOfRange           = &TerminalError{Code: CodeOutOfRange, Message: "index out of range"}
)

// TerminalError carries an operator-facing message together with the error kind
// and the underlying cause.
type TerminalError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TerminalError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *TerminalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on the error kind so wrapped instances compare equal to the sentinels.
func (e *TerminalError) Is(target error) bool {
	t, ok := target.(*TerminalError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// NewTerminalError constructs a TerminalError.
func NewTerminalError(code, message string, err error) *TerminalError {
	return &TerminalError{Code: code, Message: message, Err: err}
}

// CodeOf returns the terminal error code carried by err, or an empty string.
func CodeOf(err error) string {
	var target *TerminalError
	if errors.As(err, &target) {
		return target.Code
	}
	return ""
}
