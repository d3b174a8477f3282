package usecase

import "fmt"

type ErrorCode string

const (
	// ErrorConfigUnavailable means the prompt/model configuration could not
	// be loaded; the batch never starts and the delivery should be retried.
	ErrorConfigUnavailable ErrorCode = "CONFIG_UNAVAILABLE"
	// ErrorDispatchFailure means an outbound send failed. It is counted and
	// logged per message and never blocks the rest of the batch.
	ErrorDispatchFailure ErrorCode = "DISPATCH_FAILURE"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
