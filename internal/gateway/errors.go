package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers transport failures and timeouts.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrBadResponse is returned when the gateway answers with something that
	// cannot be decoded.
	ErrBadResponse = errors.New("invalid response from payment gateway")
	// ErrRejected is returned when the gateway answers but refuses the request.
	ErrRejected = errors.New("payment gateway rejected request")
)

type Error struct {
	Op         string
	StatusCode int
	Message    string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
