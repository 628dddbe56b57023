package api

import (
	"encoding/json"
	"net/http"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/policy"
	"github.com/agoramesh/facilitator/pkg/session"
)

// createPolicyRequest is the body for policy creation.
type createPolicyRequest struct {
	Owner             string `json:"owner"`
	MaxSessionValue   int64  `json:"max_session_value"`
	MaxSingleRequest  int64  `json:"max_single_request"`
	AllowedTiers      uint64 `json:"allowed_tiers,omitempty"`
	AllowedCategories uint64 `json:"allowed_categories,omitempty"`
	RequireProofs     bool   `json:"require_proofs,omitempty"`
}

// policyResponse wraps a single policy.
type policyResponse struct {
	Policy *policy.Policy `json:"policy"`
}

// policySessionResponse wraps a session created under a policy.
type policySessionResponse struct {
	Session  *session.Session `json:"session"`
	PolicyID string           `json:"policy_id"`
}

// createPolicy handles POST /api/v1/sessions/policies.
//
// @Summary      Create policy
// @Description  Creates an immutable spending policy that caps sessions created under it.
// @Tags         Policies
// @Accept       json
// @Produce      json
// @Param        request  body  createPolicyRequest  true  "Policy bounds"
// @Success      201  {object}  policyResponse
// @Failure      400  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/policies [post]
func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	owner, ok := parseAddr(w, req.Owner)
	if !ok {
		return
	}

	p, err := h.deps.Policies.Create(r.Context(), policy.CreateParams{
		Owner:             owner,
		MaxSessionValue:   req.MaxSessionValue,
		MaxSingleRequest:  req.MaxSingleRequest,
		AllowedTiers:      req.AllowedTiers,
		AllowedCategories: req.AllowedCategories,
		RequireProofs:     req.RequireProofs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyResponse{Policy: p})
}

// listPolicies handles GET /api/v1/sessions/policies.
//
// @Summary      List policies
// @Tags         Policies
// @Produce      json
// @Param        owner  query  string  false  "Filter by owner address"
// @Success      200  {array}  policy.Policy
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/policies [get]
func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.deps.Policies.List(r.Context(), address.Address(r.URL.Query().Get("owner")))
	if err != nil {
		writeError(w, err)
		return
	}
	if policies == nil {
		policies = []*policy.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// getPolicy handles GET /api/v1/sessions/policies/{id}.
//
// @Summary      Get policy
// @Tags         Policies
// @Produce      json
// @Param        id  path  string  true  "Policy ID"
// @Success      200  {object}  policyResponse
// @Failure      404  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/policies/{id} [get]
func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{Policy: p})
}

// createSessionFromPolicy handles POST /api/v1/sessions/policies/{id}/create-session.
//
// @Summary      Create session from policy
// @Description  Creates a session whose bounds are re-validated against the policy at creation time.
// @Tags         Policies
// @Accept       json
// @Produce      json
// @Param        id       path  string                true  "Policy ID"
// @Param        request  body  createSessionRequest  true  "Session bounds"
// @Success      201  {object}  policySessionResponse
// @Failure      400  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/policies/{id}/create-session [post]
func (h *Handler) createSessionFromPolicy(w http.ResponseWriter, r *http.Request) {
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

	policyID := r.PathValue("id")
	s, err := h.deps.Sessions.Create(r.Context(), session.CreateParams{
		Client:         client,
		Agent:          agent,
		MaxTotal:       req.MaxTotal,
		MaxPerRequest:  req.MaxPerRequest,
		RateLimit:      req.RateLimit,
		DurationBlocks: req.DurationBlocks,
		CurrentBlock:   req.CurrentBlock,
		PolicyID:       policyID,
		AgentTier:      req.AgentTier,
		AgentCategory:  req.AgentCategory,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policySessionResponse{Session: s, PolicyID: policyID})
}
