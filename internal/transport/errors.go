package transport

import "errors"

// Error taxonomy for the transcription transport. Config and resource errors
// are fatal: retrying cannot conjure a credential or a granted microphone
// permission. Connect and timeout errors are transient and retried with
// backoff up to the attempt cap; once exhausted a single [ErrSessionLost] is
// surfaced.
var (
	// ErrNoCredential is returned by Start when no provider API key is
	// configured. Never retried.
	ErrNoCredential = errors.New("transport: no provider API key configured")

	// ErrAlreadyStarted is returned by Start while a session is active.
	ErrAlreadyStarted = errors.New("transport: session already active")

	// ErrConnect wraps transient connection failures.
	ErrConnect = errors.New("transport: connect failed")

	// ErrConnectTimeout is raised when the provider does not acknowledge
	// session start within the connect timeout.
	ErrConnectTimeout = errors.New("transport: provider did not acknowledge session start in time")

	// ErrDeviceUnavailable wraps microphone acquisition failures. Fatal for
	// the session.
	ErrDeviceUnavailable = errors.New("transport: audio device unavailable")

	// ErrSessionLost is the single terminal error emitted after reconnect
	// attempts are exhausted.
	ErrSessionLost = errors.New("transport: connection lost and reconnect attempts exhausted")
)

// ProtocolError describes a malformed or unexpected provider message. It is
// logged and the session continues; it never terminates a stream by itself.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "transport: protocol error: " + e.Detail
}
