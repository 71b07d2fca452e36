package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/audit"
)

// handleListDiagnostics returns paginated diagnostic log entries.
//
// Query parameters:
//   - device: entries naming this device (case-insensitive)
//   - action: diagnostic or command
//   - since: RFC 3339 instant
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "diagnostic log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("device"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list diagnostics", "error", err)
		writeInternalError(w, "failed to list diagnostics")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
