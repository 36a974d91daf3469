package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-nuki/internal/audit"
)

// handleListEvents returns the lock event log, newest first.
//
// Query parameters: entity_id, kind, since (RFC 3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EntityID: q.Get("entity_id"),
		Kind:     q.Get("kind"),
	}

	if filter.Kind != "" && filter.Kind != audit.KindCommand && filter.Kind != audit.KindAvailability {
		writeBadRequest(w, "kind must be command or availability")
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing lock events failed", "error", err)
		writeInternalError(w, "failed to list lock events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
