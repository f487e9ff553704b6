package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/meshcore-bridge/internal/audit"
)

// handleListAudit returns paginated command audit entries, newest first.
//
// Query parameters:
//   - command: filter by command name (connect, send_message, ...)
//   - success: "true" or "false"
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		fail(w, r, CodeDisabled, "command audit is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Command: q.Get("command")}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(w, r, CodeBadRequest, "success must be true or false")
			return
		}
		filter.Success = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, r, CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, r, CodeBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		fail(w, r, CodeInternal, "failed to list audit entries")
		return
	}

	respondJSON(w, http.StatusOK, result)
}
