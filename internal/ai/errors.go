package ai

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("API key is missing")
	ErrInvalidEndpoint   = errors.New("invalid endpoint URL")
	ErrEmptyResult       = errors.New("no usable content in response")
	ErrEmptyRequest      = errors.New("request has no prompt and no media")
	ErrCancelled         = errors.New("request cancelled")
)

// HTTPError is a non-success status from a provider. Message comes from the
// provider's error envelope when one is present.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// TransportError is a network-level failure, including client timeouts.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Provider, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means a success status carried a body of unexpected shape.
type MalformedResponseError struct {
	Provider string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Provider, e.Reason)
}

// Classify maps an error to a stable label for metrics and logs.
func Classify(err error) string {
	if err == nil {
		return "success"
	}
	var httpErr *HTTPError
	var trErr *TransportError
	var malErr *MalformedResponseError
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidEndpoint):
		return "invalid_endpoint"
	case errors.Is(err, ErrEmptyRequest):
		return "empty_request"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.As(err, &httpErr):
		if httpErr.StatusCode == 429 {
			return "rate_limited"
		}
		return fmt.Sprintf("http_%dxx", httpErr.StatusCode/100)
	case errors.As(err, &malErr):
		return "malformed"
	case errors.As(err, &trErr), errors.Is(err, context.DeadlineExceeded):
		return "transport"
	}
	return "error"
}

// UserMessage renders err the way a delivery surface should show it.
func UserMessage(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message
	}
	return err.Error()
}
