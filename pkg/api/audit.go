package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agoramesh/facilitator/pkg/audit"
)

const defaultAuditLimit = 50

// auditEventsResponse wraps a page of audit events.
type auditEventsResponse struct {
	Data   []audit.Event `json:"data"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// listAuditEvents handles GET /api/v1/audit/events.
//
// @Summary      List audit events
// @Description  Returns the compliance trail of admissions, lifecycle transitions, approvals, and settlements. Admin role required.
// @Tags         Audit
// @Produce      json
// @Param        entity_kind  query  string  false  "Filter by entity kind: session, policy, escrow"
// @Param        entity_id    query  string  false  "Filter by entity ID"
// @Param        action       query  string  false  "Filter by action"
// @Param        actor        query  string  false  "Filter by actor"
// @Param        success      query  boolean false  "Filter by success/failure"
// @Param        start_time   query  string  false  "Events after this time (RFC 3339)"
// @Param        end_time     query  string  false  "Events before this time (RFC 3339)"
// @Param        limit        query  integer false  "Results per page (default: 50)"
// @Param        offset       query  integer false  "Results offset"
// @Success      200  {object}  auditEventsResponse
// @Failure      403  {string}  string
// @Failure      500  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /audit/events [get]
func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		EntityKind: audit.EntityKind(q.Get("entity_kind")),
		EntityID:   q.Get("entity_id"),
		Action:     q.Get("action"),
		Actor:      q.Get("actor"),
		StartTime:  parseTimeParam(q, "start_time"),
		EndTime:    parseTimeParam(q, "end_time"),
	}

	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Success = &b
		}
	}

	filter.Limit = parseIntParam(q, "limit", defaultAuditLimit)
	filter.Offset = parseIntParam(q, "offset", 0)

	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	writeJSON(w, http.StatusOK, auditEventsResponse{
		Data:   events,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// parseTimeParam parses an RFC 3339 query parameter, nil when absent or
// malformed.
func parseTimeParam(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// parseIntParam parses a non-negative integer query parameter.
func parseIntParam(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
