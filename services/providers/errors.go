package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyResponse is returned when an engine answers with blank text
	ErrEmptyResponse = errors.New("empty response")

	// ErrProviderNotFound is returned when no provider is registered for an engine
	ErrProviderNotFound = errors.New("provider not found")
)

// ErrorKind classifies why an invocation failed
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindTransport     ErrorKind = "transport"
	KindAuth          ErrorKind = "auth"
	KindRateLimit     ErrorKind = "rate_limit"
	KindEmptyResponse ErrorKind = "empty_response"
	KindProvider      ErrorKind = "provider"
	KindCancelled     ErrorKind = "cancelled"
)

// InvocationError is a failed invocation of one engine and model
type InvocationError struct {
	Engine     string
	Model      string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Engine, e.Model, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NewInvocationError creates an invocation error
func NewInvocationError(engine, model string, kind ErrorKind, statusCode int, err error) *InvocationError {
	return &InvocationError{
		Engine:     engine,
		Model:      model,
		Kind:       kind,
		StatusCode: statusCode,
		Err:        err,
	}
}

// KindForStatus maps an HTTP status code to an error kind
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindProvider
	}
}

// KindOf returns the kind of err. Errors that are not invocation errors are
// classified from context errors, and otherwise reported as transport errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrEmptyResponse):
		return KindEmptyResponse
	default:
		return KindTransport
	}
}
