package twilio

import "errors"

// Sentinel errors for the twilio package.
var (
	// ErrMalformedMessage indicates a media stream message that could not be
	// decoded. The session logs and skips it.
	ErrMalformedMessage = errors.New("twilio: malformed media message")

	// ErrMissingSignature indicates a webhook request without X-Twilio-Signature.
	ErrMissingSignature = errors.New("twilio: missing request signature")

	// ErrInvalidSignature indicates a webhook signature that does not match.
	ErrInvalidSignature = errors.New("twilio: invalid request signature")

	// ErrMissingAuthToken indicates signature validation without an auth token.
	ErrMissingAuthToken = errors.New("twilio: auth token is required to validate signatures")
)
