package robolabs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies the outcome of a RoboLabs API call. HTTP-level failures are
// values, not errors: callers branch on the kind instead of unwrapping panics
// from deep inside the transport.
type Kind int

const (
	// KindSuccess is any 2xx/3xx response.
	KindSuccess Kind = iota
	// KindRateLimited is an HTTP 429 with an optional Retry-After hint.
	KindRateLimited
	// KindFailure is any other 4xx/5xx response.
	KindFailure
	// KindTransportError is a network-level failure (DNS, connect, timeout).
	KindTransportError
)

// Result is the uniform shape every gateway call returns.
type Result struct {
	Kind     Kind
	HTTPCode int
	// Message holds the extracted error description for non-success results.
	Message string
	// RetryAfter is the Retry-After header in seconds on rate limiting.
	// Advisory only: backoff scheduling uses the exponential formula.
	RetryAfter int
	// Body is the raw response body for the caller to decode.
	Body json.RawMessage
}

// OK reports whether the call succeeded at the HTTP level.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Decode unmarshals the response body into v.
func (r Result) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("robolabs: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("robolabs: decode response: %w", err)
	}
	return nil
}

// Err converts a non-success result into an *APIError; nil on success.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{Kind: r.Kind, HTTPCode: r.HTTPCode, Message: r.Message}
}

// APIError carries the HTTP status of a failed call so orchestrators can
// classify it for retry scheduling.
type APIError struct {
	Kind     Kind
	HTTPCode int
	Message  string
}

func (e *APIError) Error() string {
	if e.HTTPCode > 0 {
		return fmt.Sprintf("robolabs api: %s (http %d)", e.Message, e.HTTPCode)
	}
	return fmt.Sprintf("robolabs api: %s", e.Message)
}

// Retryable reports whether the failure is transient: transport errors,
// rate limiting (429) and server errors (>=500). Every other 4xx is a
// logic or configuration problem and is never retried.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindTransportError, KindRateLimited:
		return true
	case KindFailure:
		return e.HTTPCode >= 500
	default:
		return false
	}
}
