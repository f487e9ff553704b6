package api

import (
	"encoding/json"
	"net/http"
)

// ErrorCode classifies a failed monitor request.
type ErrorCode string

// Error codes returned in ErrorBody.Code.
const (
	CodeBadRequest   ErrorCode = "bad_request"
	CodeNotFound     ErrorCode = "not_found"
	CodeAmbiguousKey ErrorCode = "ambiguous_key"
	CodeDisabled     ErrorCode = "disabled"
	CodeReadOnly     ErrorCode = "read_only"
	CodeInternal     ErrorCode = "internal_error"
)

// statusFor maps each code to its HTTP status.
var statusFor = map[ErrorCode]int{
	CodeBadRequest:   http.StatusBadRequest,
	CodeNotFound:     http.StatusNotFound,
	CodeAmbiguousKey: http.StatusConflict,
	CodeDisabled:     http.StatusNotFound,
	CodeReadOnly:     http.StatusMethodNotAllowed,
	CodeInternal:     http.StatusInternalServerError,
}

// ErrorBody is the JSON body of every non-2xx response. RequestID echoes
// the X-Request-ID header so a caller can find the matching log line.
type ErrorBody struct {
	Status    int       `json:"status"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

// fail writes an ErrorBody for code. Unknown codes are reported as 500.
func fail(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, ErrorBody{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}

func requestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}
