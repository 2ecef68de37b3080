package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the agent package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("agent: API key is required")

	// ErrMalformedEvent indicates a message that could not be decoded.
	// The session logs and skips it.
	ErrMalformedEvent = errors.New("agent: malformed event")

	// ErrClosed indicates the connection was closed.
	ErrClosed = errors.New("agent: connection closed")
)

// ConnectionError represents a failure to reach or keep the agent connection.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// StatusCode is the HTTP status of a rejected handshake, if any.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("agent: connection error: %s (HTTP %d): %v", e.Reason, e.StatusCode, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("agent: connection error: %s: %v", e.Reason, e.Cause)
	default:
		return "agent: connection error: " + e.Reason
	}
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsAuthError reports whether the handshake was rejected for bad credentials.
func IsAuthError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && (ce.StatusCode == 401 || ce.StatusCode == 403)
}
