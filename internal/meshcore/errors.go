package meshcore

import "errors"

// Domain errors for the meshcore package.
var (
	// ErrNoResponse is returned when the node stays silent until the
	// caller's deadline. It is distinct from a transport failure.
	ErrNoResponse = errors.New("meshcore: no response from node")

	// ErrTransport wraps any I/O failure on the serial port or socket.
	ErrTransport = errors.New("meshcore: transport failure")

	// ErrDeviceRejected is returned when the node answers a command with
	// an ERR frame.
	ErrDeviceRejected = errors.New("meshcore: command rejected by node")

	// ErrMalformedFrame is returned when a frame is too short or carries
	// an unexpected code.
	ErrMalformedFrame = errors.New("meshcore: malformed frame")

	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("meshcore: client closed")

	// ErrInvalidKey is returned when a public key or key prefix is not
	// valid hex of the required length.
	ErrInvalidKey = errors.New("meshcore: invalid public key")

	// ErrInvalidRadioParams is returned when radio settings are out of range.
	ErrInvalidRadioParams = errors.New("meshcore: invalid radio parameters")
)
