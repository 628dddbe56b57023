// Package api provides the facilitator's REST endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/audit"
	"github.com/agoramesh/facilitator/pkg/auth"
	"github.com/agoramesh/facilitator/pkg/escrow"
	"github.com/agoramesh/facilitator/pkg/fault"
	"github.com/agoramesh/facilitator/pkg/policy"
	"github.com/agoramesh/facilitator/pkg/session"
)

// Deps holds the components the API layer exposes.
type Deps struct {
	Sessions *session.Manager
	Policies *policy.Engine
	Escrows  *escrow.Coordinator

	// AuditQuerier backs the admin audit endpoint. Optional.
	AuditQuerier audit.Logger

	// AuthMiddleware wraps every route. Optional; nil means no auth.
	AuthMiddleware func(http.Handler) http.Handler

	// AdminRole gates the audit endpoint. Defaults to "admin".
	AdminRole string
}

// Handler provides the facilitator REST API.
type Handler struct {
	mux  *http.ServeMux
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.AdminRole == "" {
		deps.AdminRole = "admin"
	}
	h := &Handler{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.deps.AuthMiddleware != nil {
		h.deps.AuthMiddleware(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/v1/sessions", h.createSession)
	h.mux.HandleFunc("GET /api/v1/sessions", h.listSessions)
	h.mux.HandleFunc("GET /api/v1/sessions/{id}", h.getSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/pause", h.pauseSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/resume", h.resumeSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/close", h.closeSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/request", h.admitRequest)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/settle", h.settleSession)

	h.mux.HandleFunc("POST /api/v1/sessions/policies", h.createPolicy)
	h.mux.HandleFunc("GET /api/v1/sessions/policies", h.listPolicies)
	h.mux.HandleFunc("GET /api/v1/sessions/policies/{id}", h.getPolicy)
	h.mux.HandleFunc("POST /api/v1/sessions/policies/{id}/create-session", h.createSessionFromPolicy)

	h.mux.HandleFunc("POST /api/v1/escrows/multisig", h.createEscrow)
	h.mux.HandleFunc("GET /api/v1/escrows/multisig/{job_hash}", h.getEscrow)
	h.mux.HandleFunc("POST /api/v1/escrows/multisig/{job_hash}/approve", h.approveEscrow)
	h.mux.HandleFunc("POST /api/v1/escrows/multisig/{job_hash}/refund", h.refundEscrow)
	h.mux.HandleFunc("GET /api/v1/escrows/multisig/pending/{address}", h.pendingEscrows)

	if h.deps.AuditQuerier != nil {
		h.mux.Handle("GET /api/v1/audit/events",
			auth.RequireRole(h.deps.AdminRole)(http.HandlerFunc(h.listAuditEvents)))
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to a status via its fault kind and writes the
// error body.
func writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

// writeBadRequest writes a validation error for malformed request bodies.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: string(fault.KindValidation)})
}

// parseAddr validates an address at the API boundary. On failure it
// writes the validation error and returns false.
func parseAddr(w http.ResponseWriter, s string) (address.Address, bool) {
	addr, err := address.Parse(s)
	if err != nil {
		writeError(w, err)
		return address.Empty, false
	}
	return addr, true
}

