package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/agoramesh/facilitator/pkg/escrow"
	"github.com/agoramesh/facilitator/pkg/policy"
	"github.com/agoramesh/facilitator/pkg/session"
)

// CreateSessionParams holds the inputs for session creation.
type CreateSessionParams struct {
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

// CreatePolicyParams holds the inputs for policy creation.
type CreatePolicyParams struct {
	Owner             string `json:"owner"`
	MaxSessionValue   int64  `json:"max_session_value"`
	MaxSingleRequest  int64  `json:"max_single_request"`
	AllowedTiers      uint64 `json:"allowed_tiers,omitempty"`
	AllowedCategories uint64 `json:"allowed_categories,omitempty"`
	RequireProofs     bool   `json:"require_proofs,omitempty"`
}

// CreateEscrowParams holds the inputs for escrow creation.
type CreateEscrowParams struct {
	Agent              string    `json:"agent"`
	Owner              string    `json:"owner"`
	Amount             int64     `json:"amount"`
	JobHash            string    `json:"job_hash"`
	SecretHash         string    `json:"secret_hash"`
	Signers            [3]string `json:"signers"`
	RequiredSignatures int       `json:"required_signatures"`
}

type sessionEnvelope struct {
	Session *session.Session `json:"session"`
}

type admitEnvelope struct {
	Session *session.Session `json:"session"`
	Receipt *session.Receipt `json:"receipt"`
}

type settleEnvelope struct {
	Session    *session.Session    `json:"session"`
	Settlement *session.Settlement `json:"settlement"`
}

type closeEnvelope struct {
	RefundAmount int64 `json:"refund_amount"`
}

type policyEnvelope struct {
	Policy *policy.Policy `json:"policy"`
}

type escrowEnvelope struct {
	Escrow *escrow.MultiSigEscrow `json:"escrow"`
}

type approveEnvelope struct {
	Escrow       *escrow.MultiSigEscrow `json:"escrow"`
	ThresholdMet bool                   `json:"threshold_met"`
}

// CreateSession creates a bounded spending session.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*session.Session, error) {
	var resp sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", params, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// ListSessions lists sessions; empty filter values match everything.
func (c *Client) ListSessions(ctx context.Context, client, agent, status string) ([]*session.Session, error) {
	q := url.Values{}
	if client != "" {
		q.Set("client", client)
	}
	if agent != "" {
		q.Set("agent", agent)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/v1/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var sessions []*session.Session
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession retrieves one session.
func (c *Client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var resp sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// PauseSession suspends admissions on a session.
func (c *Client) PauseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/pause", nil, nil)
}

// ResumeSession reactivates a paused session.
func (c *Client) ResumeSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/resume", nil, nil)
}

// CloseSession terminally closes a session and returns the unspent refund.
func (c *Client) CloseSession(ctx context.Context, id string) (int64, error) {
	var resp closeEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/close", nil, &resp); err != nil {
		return 0, err
	}
	return resp.RefundAmount, nil
}

// AdmitRequest authorizes one spend against the session.
func (c *Client) AdmitRequest(ctx context.Context, id string, amount int64, requestHash string) (*session.Session, *session.Receipt, error) {
	body := map[string]any{"amount": amount}
	if requestHash != "" {
		body["request_hash"] = requestHash
	}

	var resp admitEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/request", body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Session, resp.Receipt, nil
}

// SettleSession releases previously admitted spend to the agent.
func (c *Client) SettleSession(ctx context.Context, id string, amount int64) (*session.Session, *session.Settlement, error) {
	body := map[string]any{"settlement_amount": amount}

	var resp settleEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/settle", body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Session, resp.Settlement, nil
}

// CreatePolicy creates an immutable spending policy.
func (c *Client) CreatePolicy(ctx context.Context, params CreatePolicyParams) (*policy.Policy, error) {
	var resp policyEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/policies", params, &resp); err != nil {
		return nil, err
	}
	return resp.Policy, nil
}

// ListPolicies lists policies, optionally filtered by owner.
func (c *Client) ListPolicies(ctx context.Context, owner string) ([]*policy.Policy, error) {
	path := "/api/v1/sessions/policies"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}

	var policies []*policy.Policy
	if err := c.do(ctx, http.MethodGet, path, nil, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// CreateSessionFromPolicy creates a session whose bounds are validated
// against the policy.
func (c *Client) CreateSessionFromPolicy(ctx context.Context, policyID string, params CreateSessionParams) (*session.Session, error) {
	var resp sessionEnvelope
	path := "/api/v1/sessions/policies/" + policyID + "/create-session"
	if err := c.do(ctx, http.MethodPost, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// CreateMultiSigEscrow locks funds for a job under a signer threshold.
func (c *Client) CreateMultiSigEscrow(ctx context.Context, params CreateEscrowParams) (*escrow.MultiSigEscrow, error) {
	var resp escrowEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/escrows/multisig", params, &resp); err != nil {
		return nil, err
	}
	return resp.Escrow, nil
}

// GetEscrow retrieves one escrow by job hash.
func (c *Client) GetEscrow(ctx context.Context, jobHash string) (*escrow.MultiSigEscrow, error) {
	var resp escrowEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/v1/escrows/multisig/"+jobHash, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Escrow, nil
}

// ApproveEscrow records one signer's approval; the bool reports whether
// this approval first met the release threshold.
func (c *Client) ApproveEscrow(ctx context.Context, jobHash, signerAddress string) (*escrow.MultiSigEscrow, bool, error) {
	body := map[string]any{"signer_address": signerAddress}

	var resp approveEnvelope
	path := "/api/v1/escrows/multisig/" + jobHash + "/approve"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, false, err
	}
	return resp.Escrow, resp.ThresholdMet, nil
}

// RefundEscrow returns a locked escrow to its owner.
func (c *Client) RefundEscrow(ctx context.Context, jobHash string) (*escrow.MultiSigEscrow, error) {
	var resp escrowEnvelope
	path := "/api/v1/escrows/multisig/" + jobHash + "/refund"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Escrow, nil
}

// PendingEscrows lists locked escrows awaiting the address's approval.
func (c *Client) PendingEscrows(ctx context.Context, addr string) ([]*escrow.MultiSigEscrow, error) {
	var pending []*escrow.MultiSigEscrow
	path := "/api/v1/escrows/multisig/pending/" + url.PathEscape(addr)
	if err := c.do(ctx, http.MethodGet, path, nil, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}
