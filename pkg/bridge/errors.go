package bridge

import "errors"

// Sentinel errors for the bridge package.
var (
	// ErrTelephonyClosed indicates the media stream connection failed or
	// closed before a stop message.
	ErrTelephonyClosed = errors.New("bridge: telephony connection closed")

	// ErrTurnTimeout indicates the agent produced no audio for a turn within
	// the hard turn timeout.
	ErrTurnTimeout = errors.New("bridge: turn timed out waiting for agent audio")

	// ErrHangup indicates the call was ended by Hangup.
	ErrHangup = errors.New("bridge: call hung up")

	// ErrSettingsRejected indicates the agent reported an error before
	// acknowledging the session settings.
	ErrSettingsRejected = errors.New("bridge: agent rejected session settings")

	// ErrMissingDialer indicates New was called without an agent dialer.
	ErrMissingDialer = errors.New("bridge: agent dialer is required")

	// errStopped ends a session cleanly when the stream sends stop.
	errStopped = errors.New("bridge: stream stopped")
)
