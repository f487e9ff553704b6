// Package wire defines the line-delimited JSON messages exchanged with the
// parent process on stdin and stdout.
//
// Every line in either direction is one JSON object with no embedded
// newline. Requests carry an opaque correlation id that is echoed back
// byte-for-byte in the matching response.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnknownID is the correlation id used when a request's own id cannot be
// recovered (unparsable line, or an object without an id).
var UnknownID = json.RawMessage(`"unknown"`)

// Protocol errors.
var (
	// ErrProtocol is the parent of every malformed-input error.
	ErrProtocol = errors.New("wire: protocol error")

	// ErrInvalidJSON is returned when a line is not valid JSON.
	ErrInvalidJSON = fmt.Errorf("%w: invalid JSON", ErrProtocol)

	// ErrInvalidRequest is returned when a line is valid JSON but not a
	// request object.
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrProtocol)
)

// Request is one decoded request line.
type Request struct {
	// ID is the raw JSON of the "id" member, or UnknownID when absent.
	ID json.RawMessage

	// Cmd names the operation.
	Cmd string

	// Params holds every member of the request object, including id and cmd.
	Params map[string]json.RawMessage
}

// Response is one response line.
//
// Data is omitted on failure; Error and Detail are omitted on success.
type Response struct {
	ID      json.RawMessage `json:"id"`
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// Ready is the announcement line written once before the first request.
type Ready struct {
	Type              string `json:"type"`
	MeshCoreAvailable bool   `json:"meshcore_available"`
	TCPAvailable      bool   `json:"tcp_available"`
}

// NewReady builds the ready announcement.
func NewReady(meshcoreAvailable, tcpAvailable bool) Ready {
	return Ready{Type: "ready", MeshCoreAvailable: meshcoreAvailable, TCPAvailable: tcpAvailable}
}

// Success builds a successful response.
func Success(id json.RawMessage, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

// Failure builds a failed response. An empty message becomes "internal error"
// so the error member is never dropped.
func Failure(id json.RawMessage, message string) Response {
	if message == "" {
		message = "internal error"
	}
	return Response{ID: id, Success: false, Error: message}
}

// DecodeRequest parses one trimmed, non-empty line.
//
// On an ErrInvalidRequest failure the returned Request is non-nil when the
// line was an object, so its id can still be echoed.
func DecodeRequest(line []byte) (*Request, error) {
	var raw any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrInvalidRequest, jsonKind(raw))
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(line, &members); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	req := &Request{ID: UnknownID, Params: members}
	if id, ok := members["id"]; ok {
		req.ID = compact(id)
	}

	if cmd, ok := members["cmd"]; ok && !isNull(cmd) {
		if err := json.Unmarshal(cmd, &req.Cmd); err != nil {
			return req, fmt.Errorf("%w: cmd must be a string", ErrInvalidRequest)
		}
	}
	return req, nil
}

// ProtocolFailure turns a DecodeRequest error into the response written for
// the offending line.
func ProtocolFailure(req *Request, err error) Response {
	id := UnknownID
	if req != nil {
		id = req.ID
	}

	switch {
	case errors.Is(err, ErrInvalidJSON):
		return Failure(id, "Invalid JSON: "+detail(err))
	case errors.Is(err, ErrInvalidRequest):
		return Failure(id, "Invalid request: "+detail(err))
	default:
		return Failure(id, err.Error())
	}
}

// detail strips the sentinel prefixes from a wrapped protocol error.
func detail(err error) string {
	msg := err.Error()
	for _, prefix := range []string{ErrInvalidJSON.Error() + ": ", ErrInvalidRequest.Error() + ": "} {
		if rest, ok := strings.CutPrefix(msg, prefix); ok {
			return rest
		}
	}
	return msg
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "value"
	}
}
