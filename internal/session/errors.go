package session

import (
	"errors"
	"strings"

	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
)

// Domain errors for the session package.
var (
	// ErrNotConnected is returned by every device operation while the
	// session is disconnected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrNoDeviceResponse is returned when the handshake gets no answer.
	ErrNoDeviceResponse = errors.New("session: no response from device")

	// ErrNoStatusResponse is returned when a status wait elapses.
	ErrNoStatusResponse = errors.New("session: no status received")

	// ErrTransportUnavailable is returned when the requested transport kind
	// is disabled in this runtime.
	ErrTransportUnavailable = errors.New("session: transport unavailable")

	// ErrTransport wraps an I/O failure on the device link.
	ErrTransport = errors.New("session: transport error")

	// ErrDeviceRejected is returned when the device answers with an error.
	ErrDeviceRejected = errors.New("session: device rejected command")

	// ErrInvalidArgument is returned for malformed keys, names or radio
	// settings.
	ErrInvalidArgument = errors.New("session: invalid argument")
)

// DeviceError pairs a session error kind with the device-level cause.
type DeviceError struct {
	Kind  error
	Cause error
}

func (e *DeviceError) Error() string {
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *DeviceError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// Detail returns the cause without the device package's sentinel prefixes,
// suitable for showing to the caller.
func (e *DeviceError) Detail() string {
	msg := e.Cause.Error()
	for _, sentinel := range []error{
		meshcore.ErrTransport,
		meshcore.ErrDeviceRejected,
		meshcore.ErrInvalidKey,
		meshcore.ErrInvalidRadioParams,
		meshcore.ErrMalformedFrame,
	} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	return msg
}

// classify maps a device error onto the session taxonomy. silent is the
// kind used when the device never answered.
func classify(err error, silent error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return err
	case errors.Is(err, meshcore.ErrNoResponse):
		return silent
	case errors.Is(err, meshcore.ErrDeviceRejected):
		return &DeviceError{Kind: ErrDeviceRejected, Cause: err}
	case errors.Is(err, meshcore.ErrInvalidKey), errors.Is(err, meshcore.ErrInvalidRadioParams):
		return &DeviceError{Kind: ErrInvalidArgument, Cause: err}
	default:
		return &DeviceError{Kind: ErrTransport, Cause: err}
	}
}
