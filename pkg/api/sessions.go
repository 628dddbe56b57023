package api

import (
	"encoding/json"
	"net/http"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/session"
)

// createSessionRequest is the body for session creation.
type createSessionRequest struct {
	Agent          string `json:"agent"`
	Client         string `json:"client"`
	MaxTotal       int64  `json:"max_total"`
	MaxPerRequest  int64  `json:"max_per_request"`
	RateLimit      int    `json:"rate_limit"`
	DurationBlocks uint64 `json:"duration_blocks"`
	CurrentBlock   uint64 `json:"current_block,omitempty"`
	AgentTier      uint64 `json:"agent_tier,omitempty"`
	AgentCategory  uint64 `json:"agent_category,omitempty"`
}

// sessionResponse wraps a single session.
type sessionResponse struct {
	Session *session.Session `json:"session"`
}

// admitRequestBody is the body for request admission.
type admitRequestBody struct {
	Amount       int64  `json:"amount"`
	RequestHash  string `json:"request_hash,omitempty"`
	CurrentBlock uint64 `json:"current_block,omitempty"`
}

// admitResponse wraps the updated session and the new receipt.
type admitResponse struct {
	Session *session.Session `json:"session"`
	Receipt *session.Receipt `json:"receipt"`
}

// settleRequest is the body for settlement.
type settleRequest struct {
	SettlementAmount int64 `json:"settlement_amount"`
}

// settleResponse wraps the updated session and the new settlement.
type settleResponse struct {
	Session    *session.Session    `json:"session"`
	Settlement *session.Settlement `json:"settlement"`
}

// closeResponse reports the informational refund on close.
type closeResponse struct {
	RefundAmount int64 `json:"refund_amount"`
}

// createSession handles POST /api/v1/sessions.
//
// @Summary      Create session
// @Description  Creates a bounded spending session between a client and an agent.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        request  body  createSessionRequest  true  "Session bounds"
// @Success      201  {object}  sessionResponse
// @Failure      400  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions [post]
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	client, ok := parseAddr(w, req.Client)
	if !ok {
		return
	}
	agent, ok := parseAddr(w, req.Agent)
	if !ok {
		return
	}

	s, err := h.deps.Sessions.Create(r.Context(), session.CreateParams{
		Client:         client,
		Agent:          agent,
		MaxTotal:       req.MaxTotal,
		MaxPerRequest:  req.MaxPerRequest,
		RateLimit:      req.RateLimit,
		DurationBlocks: req.DurationBlocks,
		CurrentBlock:   req.CurrentBlock,
		AgentTier:      req.AgentTier,
		AgentCategory:  req.AgentCategory,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: s})
}

// listSessions handles GET /api/v1/sessions.
//
// @Summary      List sessions
// @Description  Lists sessions filtered by client, agent, and status.
// @Tags         Sessions
// @Produce      json
// @Param        client  query  string  false  "Filter by client address"
// @Param        agent   query  string  false  "Filter by agent address"
// @Param        status  query  string  false  "Filter by status: active, paused, closed"
// @Success      200  {array}  session.Session
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions [get]
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := h.deps.Sessions.List(r.Context(), session.Filter{
		Client: address.Address(q.Get("client")),
		Agent:  address.Address(q.Get("agent")),
		Status: session.Status(q.Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// getSession handles GET /api/v1/sessions/{id}.
//
// @Summary      Get session
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session ID"
// @Success      200  {object}  sessionResponse
// @Failure      404  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id} [get]
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: s})
}

// pauseSession handles POST /api/v1/sessions/{id}/pause.
//
// @Summary      Pause session
// @Description  Suspends admissions without touching accounting.
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session ID"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/pause [post]
func (h *Handler) pauseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Pause(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// resumeSession handles POST /api/v1/sessions/{id}/resume.
//
// @Summary      Resume session
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session ID"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/resume [post]
func (h *Handler) resumeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Resume(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// closeSession handles POST /api/v1/sessions/{id}/close.
//
// @Summary      Close session
// @Description  Terminally closes the session and reports the unspent refund.
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session ID"
// @Success      200  {object}  closeResponse
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/close [post]
func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	refund, err := h.deps.Sessions.Close(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{RefundAmount: refund})
}

// admitRequest handles POST /api/v1/sessions/{id}/request.
//
// @Summary      Admit request
// @Description  Authorizes one spend against the session's budget, per-request cap, and rate limit.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        id       path  string            true  "Session ID"
// @Param        request  body  admitRequestBody  true  "Spend amount"
// @Success      200  {object}  admitResponse
// @Failure      400  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/request [post]
func (h *Handler) admitRequest(w http.ResponseWriter, r *http.Request) {
	var req admitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	id := r.PathValue("id")
	receipt, err := h.deps.Sessions.AdmitRequest(r.Context(), id, req.Amount, req.RequestHash, req.CurrentBlock)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admitResponse{Session: s, Receipt: receipt})
}

// settleSession handles POST /api/v1/sessions/{id}/settle.
//
// @Summary      Settle session
// @Description  Releases previously admitted spend to the agent. Partial settlements allowed; the cumulative settled amount never exceeds spent.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "Session ID"
// @Param        request  body  settleRequest  true  "Settlement amount"
// @Success      200  {object}  settleResponse
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/settle [post]
func (h *Handler) settleSession(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	id := r.PathValue("id")
	settlement, err := h.deps.Sessions.Settle(r.Context(), id, req.SettlementAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{Session: s, Settlement: settlement})
}
