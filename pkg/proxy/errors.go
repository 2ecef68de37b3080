package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the proxy package.
var (
	// ErrUnauthorized indicates the caller did not present the shared secret.
	ErrUnauthorized = errors.New("proxy: unauthorized")

	// ErrMalformedRequest indicates the request body is not a JSON object.
	ErrMalformedRequest = errors.New("proxy: malformed request body")

	// ErrMissingSecret indicates the proxy was built without a shared secret.
	ErrMissingSecret = errors.New("proxy: shared secret is required")

	// ErrMissingGateway indicates the proxy was built without a gateway URL.
	ErrMissingGateway = errors.New("proxy: gateway URL is required")
)

// UpstreamError describes a failed exchange with the gateway.
type UpstreamError struct {
	// StatusCode is the gateway's HTTP status, or 0 if it was never reached.
	StatusCode int

	// Body is a prefix of the gateway's error body.
	Body string

	// Cause is the transport error when the gateway was unreachable.
	Cause error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy: gateway unavailable: %v", e.Cause)
	}
	return fmt.Sprintf("proxy: gateway error (HTTP %d): %s", e.StatusCode, e.Body)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Status is the HTTP status to answer the caller with.
func (e *UpstreamError) Status() int {
	if e.StatusCode == 0 {
		return http.StatusBadGateway
	}
	return e.StatusCode
}

// Type is the error type reported in the response envelope.
func (e *UpstreamError) Type() string {
	if e.StatusCode == 0 {
		return "upstream_unavailable"
	}
	return "upstream_error"
}

// IsUpstreamUnavailable reports whether err means the gateway could not be reached.
func IsUpstreamUnavailable(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up) && up.StatusCode == 0
}

// errorBody is the JSON envelope for every error the proxy answers with.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
