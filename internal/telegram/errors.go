package telegram

import (
	"errors"
	"fmt"
)

// Error is a failed request. Code is one of the negative status codes below;
// two errors match under errors.Is when their codes are equal.
type Error struct {
	Code     int
	Endpoint string
	Err      error
}

// Status codes reported to the coordinator
const (
	CodeWiFiDown       = -101
	CodeUnknownCommand = -102
	CodeConnectFailed  = -103
	CodeTimeout        = -104
	CodeServerError    = -105
)

var (
	ErrWiFiDown       = &Error{Code: CodeWiFiDown}
	ErrUnknownCommand = &Error{Code: CodeUnknownCommand}
	ErrConnectFailed  = &Error{Code: CodeConnectFailed}
	ErrTimeout        = &Error{Code: CodeTimeout}
	ErrServerError    = &Error{Code: CodeServerError}
)

var codeText = map[int]string{
	CodeWiFiDown:       "wifi down",
	CodeUnknownCommand: "unknown command",
	CodeConnectFailed:  "connect failed",
	CodeTimeout:        "response timeout",
	CodeServerError:    "server error",
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("telegram %s (%d)", codeText[e.Code], e.Code)
	if e.Endpoint != "" {
		msg = e.Endpoint + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code int, endpoint string, err error) *Error {
	return &Error{Code: code, Endpoint: endpoint, Err: err}
}

// Code returns the status code of err, 0 for nil and -1 for foreign errors
func Code(err error) int {
	if err == nil {
		return 0
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return -1
}
