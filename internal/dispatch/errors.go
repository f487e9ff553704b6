package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/meshcore-bridge/internal/session"
)

// Domain errors for the dispatch package.
var (
	// ErrUnknownCommand is returned for a cmd with no handler.
	ErrUnknownCommand = errors.New("dispatch: unknown command")

	// ErrInvalidParams is returned when a request parameter is missing or
	// has the wrong type.
	ErrInvalidParams = errors.New("dispatch: invalid parameter")
)

// Wire messages for the fixed error kinds.
const (
	msgNotConnected     = "Not connected"
	msgNoDeviceResponse = "No response from device - check connection and ensure it is a Companion node (not a Repeater)"
	msgNoStatusResponse = "No status received"
)

// paramError reports a bad request parameter.
type paramError struct {
	name   string
	reason string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("%s %s", e.name, e.reason)
}

func (e *paramError) Unwrap() error {
	return ErrInvalidParams
}

// unknownCommandError carries the offending cmd value.
type unknownCommandError struct {
	cmd string
}

func (e *unknownCommandError) Error() string {
	return "Unknown command: " + e.cmd
}

func (e *unknownCommandError) Unwrap() error {
	return ErrUnknownCommand
}

// Message converts any handler error into the human-readable text sent to
// the caller.
func Message(err error) string {
	var (
		unknown *unknownCommandError
		param   *paramError
		devErr  *session.DeviceError
	)

	switch {
	case errors.As(err, &unknown):
		return unknown.Error()
	case errors.As(err, &param):
		return "Invalid parameter: " + param.Error()
	case errors.Is(err, session.ErrNotConnected):
		return msgNotConnected
	case errors.Is(err, session.ErrNoDeviceResponse):
		return msgNoDeviceResponse
	case errors.Is(err, session.ErrNoStatusResponse):
		return msgNoStatusResponse
	case errors.Is(err, session.ErrTransportUnavailable):
		return "Transport unavailable: " + trimSentinel(err, session.ErrTransportUnavailable)
	case errors.As(err, &devErr):
		switch {
		case errors.Is(devErr.Kind, session.ErrDeviceRejected):
			return "Device rejected command: " + devErr.Detail()
		case errors.Is(devErr.Kind, session.ErrInvalidArgument):
			return "Invalid parameter: " + devErr.Detail()
		default:
			return "Transport error: " + devErr.Detail()
		}
	case errors.Is(err, session.ErrInvalidArgument):
		return "Invalid parameter: " + trimSentinel(err, session.ErrInvalidArgument)
	default:
		return err.Error()
	}
}

// trimSentinel returns the text a wrapped sentinel added after its own.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
