package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agoramesh/facilitator/pkg/address"
	"github.com/agoramesh/facilitator/pkg/escrow"
	"github.com/agoramesh/facilitator/pkg/fault"
)

// createEscrowRequest is the body for escrow creation.
type createEscrowRequest struct {
	Agent              string    `json:"agent"`
	Owner              string    `json:"owner"`
	Amount             int64     `json:"amount"`
	JobHash            string    `json:"job_hash"`
	SecretHash         string    `json:"secret_hash"`
	Signers            [3]string `json:"signers"`
	RequiredSignatures int       `json:"required_signatures"`
}

// escrowResponse wraps a single escrow.
type escrowResponse struct {
	Escrow *escrow.MultiSigEscrow `json:"escrow"`
}

// approveRequest is the body for escrow approval.
type approveRequest struct {
	SignerAddress string `json:"signer_address"`
}

// approveResponse wraps the updated escrow and whether this approval
// first met the release threshold.
type approveResponse struct {
	Escrow       *escrow.MultiSigEscrow `json:"escrow"`
	ThresholdMet bool                   `json:"threshold_met"`
}

// createEscrow handles POST /api/v1/escrows/multisig.
//
// @Summary      Create multi-sig escrow
// @Description  Locks funds for a job under an M-of-3 signer threshold. A duplicate job hash returns 409 with the existing escrow.
// @Tags         Escrows
// @Accept       json
// @Produce      json
// @Param        request  body  createEscrowRequest  true  "Escrow parameters"
// @Success      201  {object}  escrowResponse
// @Failure      400  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /escrows/multisig [post]
func (h *Handler) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	owner, ok := parseAddr(w, req.Owner)
	if !ok {
		return
	}
	agent, ok := parseAddr(w, req.Agent)
	if !ok {
		return
	}

	e, err := h.deps.Escrows.Create(r.Context(), escrow.CreateParams{
		Owner:        owner,
		Agent:        agent,
		Amount:       req.Amount,
		JobHash:      req.JobHash,
		SecretHash:   req.SecretHash,
		Signers:      req.Signers,
		RequiredSigs: req.RequiredSignatures,
	})
	if err != nil {
		// A duplicate job hash carries the existing escrow so callers
		// can resume a half-completed job/escrow pairing.
		if errors.Is(err, fault.ErrEscrowExists) && e != nil {
			writeJSON(w, http.StatusConflict, escrowResponse{Escrow: e})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, escrowResponse{Escrow: e})
}

// getEscrow handles GET /api/v1/escrows/multisig/{job_hash}.
//
// @Summary      Get escrow
// @Tags         Escrows
// @Produce      json
// @Param        job_hash  path  string  true  "Job hash"
// @Success      200  {object}  escrowResponse
// @Failure      404  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /escrows/multisig/{job_hash} [get]
func (h *Handler) getEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Escrows.Get(r.Context(), r.PathValue("job_hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse{Escrow: e})
}

// approveEscrow handles POST /api/v1/escrows/multisig/{job_hash}/approve.
//
// @Summary      Approve escrow
// @Description  Records one signer's approval. Releases the escrow when the threshold is first met.
// @Tags         Escrows
// @Accept       json
// @Produce      json
// @Param        job_hash  path  string          true  "Job hash"
// @Param        request   body  approveRequest  true  "Approving signer"
// @Success      200  {object}  approveResponse
// @Failure      400  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /escrows/multisig/{job_hash}/approve [post]
func (h *Handler) approveEscrow(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	signer, err := address.Parse(req.SignerAddress)
	if err != nil {
		writeError(w, err)
		return
	}

	e, thresholdMet, err := h.deps.Escrows.Approve(r.Context(), r.PathValue("job_hash"), signer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{Escrow: e, ThresholdMet: thresholdMet})
}

// refundEscrow handles POST /api/v1/escrows/multisig/{job_hash}/refund.
//
// @Summary      Refund escrow
// @Description  Returns a locked escrow to its owner. Terminal.
// @Tags         Escrows
// @Produce      json
// @Param        job_hash  path  string  true  "Job hash"
// @Success      200  {object}  escrowResponse
// @Failure      404  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /escrows/multisig/{job_hash}/refund [post]
func (h *Handler) refundEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Escrows.Refund(r.Context(), r.PathValue("job_hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse{Escrow: e})
}

// pendingEscrows handles GET /api/v1/escrows/multisig/pending/{address}.
//
// @Summary      Pending escrows for a signer
// @Description  Lists locked escrows where the address occupies an unapproved signer slot.
// @Tags         Escrows
// @Produce      json
// @Param        address  path  string  true  "Signer address"
// @Success      200  {array}  escrow.MultiSigEscrow
// @Failure      400  {object}  errorBody
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /escrows/multisig/pending/{address} [get]
func (h *Handler) pendingEscrows(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}

	pending, err := h.deps.Escrows.PendingFor(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []*escrow.MultiSigEscrow{}
	}
	writeJSON(w, http.StatusOK, pending)
}
