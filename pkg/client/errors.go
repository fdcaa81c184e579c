package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrInvalidPage is returned when ListOptions carry a page < 1 or a page size <= 0.
	ErrInvalidPage = errors.New("invalid page parameters")

	// ErrRateLimited is returned when the rate limit tracker blocks a request.
	ErrRateLimited = errors.New("request blocked: remote rate limit critical")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses and success:false envelopes.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and locally gated requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassProtocol represents malformed or non-JSON bodies.
	ErrorClassProtocol ErrorClass = "protocol"
)

// RemoteRequestFailed is returned for a well-formed error envelope, a non-2xx
// status or a success:false envelope. Status is 0 for transport failures.
type RemoteRequestFailed struct {
	Status  int
	Message string
	Class   ErrorClass
	Err     error
}

// Error implements the error interface.
func (e *RemoteRequestFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s error (status %d): %s: %v",
			e.Class, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s error (status %d): %s",
		e.Class, e.Status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteRequestFailed) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *RemoteRequestFailed) Retryable() bool {
	return shouldRetry(e.Class)
}

// ProtocolError is returned when a response body is not a valid envelope.
type ProtocolError struct {
	Status  int
	Snippet string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response body (status %d): %q", e.Status, e.Snippet)
}

// Retryable always returns true: a garbled body is assumed to be transient.
func (e *ProtocolError) Retryable() bool {
	return true
}

// retryable is implemented by every error type that knows its own retry class.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is worth retrying. Errors that do not carry
// a classification are treated as terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ClassOf returns the ErrorClass of err, or "" when err is unclassified.
func ClassOf(err error) ErrorClass {
	var rrf *RemoteRequestFailed
	if errors.As(err, &rrf) {
		return rrf.Class
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return ErrorClassProtocol
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx and domain failures are terminal
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassProtocol:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status to an ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
