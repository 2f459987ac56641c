package core

import (
	"errors"
	"net/http"
)

type ErrorKind int

const (
	KindInvalidRequest ErrorKind = iota + 1
	KindProviderFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "unknown"
	}
}

const (
	msgMissingField   = "Prompt and mode are required"
	msgMissingImage   = "Image file is required for vision mode"
	msgGenericFailure = "Failed to generate response"
)

// Error is the only error type Dispatcher.Handle returns.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) StatusCode() int {
	if e.Kind == KindInvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func invalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

func providerFailure(err error) *Error {
	msg := msgGenericFailure
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Error{Kind: KindProviderFailure, Message: msg, Err: err}
}

func IsInvalidRequest(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindInvalidRequest
}

func IsProviderFailure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProviderFailure
}

// StatusCode maps any error to an HTTP status; foreign errors are 500.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
