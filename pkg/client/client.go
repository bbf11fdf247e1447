// Package client provides the Attestra Go SDK for registering agent keys,
// appending attestations, and querying trust scores over the REST API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/attestra/attestra/pkg/jwk"
)

// Attestation mirrors the ledger entry returned by the API.
type Attestation struct {
	Fingerprint   string    `json:"fingerprint"`
	WitnessID     string    `json:"witness_id"`
	SubjectID     string    `json:"subject_id"`
	Task          string    `json:"task"`
	Evidence      string    `json:"evidence"`
	Timestamp     time.Time `json:"timestamp"`
	Signature     string    `json:"signature"`
	WitnessPubKey string    `json:"witness_pubkey"`
	Seq           int64     `json:"seq"`
	Revoked       bool      `json:"revoked"`
	RevokedReason string    `json:"revoked_reason,omitempty"`
}

// AppendResult holds the outcome of an append call.
type AppendResult struct {
	Outcome     string      `json:"outcome"`
	Attestation Attestation `json:"attestation"`
}

// VerifyResult holds the verdict of a verification call.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// TrustScore mirrors the scoring response.
type TrustScore struct {
	AgentID         string        `json:"agent_id"`
	Overall         float64       `json:"overall"`
	Signals         []SignalScore `json:"signals"`
	TotalConfidence float64       `json:"total_confidence"`
	ComputedAt      time.Time     `json:"computed_at"`
	DecayFactor     float64       `json:"decay_factor"`
	ModelVersion    string        `json:"model_version"`
	LedgerVersion   int64         `json:"ledger_version"`
}

// SignalScore is one signal's contribution to a TrustScore.
type SignalScore struct {
	Name            string  `json:"name"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	Confidence      float64 `json:"confidence"`
	EffectiveWeight float64 `json:"effective_weight"`
	Evidence        string  `json:"evidence,omitempty"`
}

// PathResult holds a transitive trust query response.
type PathResult struct {
	Source string   `json:"source_agent_id"`
	Target string   `json:"target_agent_id"`
	Trust  float64  `json:"trust"`
	Path   []string `json:"path"`
	Hops   int      `json:"hops"`
}

// Certification mirrors the certification response.
type Certification struct {
	AgentID   string     `json:"agent_id"`
	Certified bool       `json:"certified"`
	Reason    string     `json:"reason,omitempty"`
	Overall   float64    `json:"overall"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BasisPoints holds the oracle feed response.
type BasisPoints struct {
	AgentID       string  `json:"agent_id"`
	BasisPoints   int     `json:"basis_points"`
	Overall       float64 `json:"overall"`
	LedgerVersion int64   `json:"ledger_version"`
}

// Client is the Attestra SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an admin token to every request. Required for
// revocation and webhook management when the server has an admin secret.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a new Attestra SDK Client connected to base.
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RegisterAgent binds a public key to its derived agent id and returns the id.
func (c *Client) RegisterAgent(ctx context.Context, pub *jwk.Key) (string, error) {
	var resp struct {
		AgentID string `json:"agent_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/agents",
		map[string]any{"public_key": pub.Public()}, &resp)
	if err != nil {
		return "", err
	}
	return resp.AgentID, nil
}

// GetAgentKey returns an agent's current public key.
func (c *Client) GetAgentKey(ctx context.Context, agentID string) (*jwk.Key, error) {
	var resp struct {
		PublicKey *jwk.Key `json:"public_key"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents/"+agentID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.PublicKey, nil
}

// RotateKey replaces an agent's key. proof is the hex-encoded rotation
// signature made with the current private key.
func (c *Client) RotateKey(ctx context.Context, agentID string, newPub *jwk.Key, proof string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/rotate",
		map[string]any{"new_public_key": newPub.Public(), "proof": proof}, nil)
}

// CreateAttestation has the server sign and append a new attestation with
// the supplied witness key. The key travels in the request body, so only
// use this against a server you operate; otherwise sign locally and use
// SubmitAttestation.
func (c *Client) CreateAttestation(ctx context.Context, witnessID, subjectID, task, evidence string, witnessKey *jwk.Key) (*AppendResult, error) {
	var resp AppendResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/attestations/create", map[string]any{
		"witness_id":  witnessID,
		"subject_id":  subjectID,
		"task":        task,
		"evidence":    evidence,
		"witness_key": witnessKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitAttestation appends a locally signed attestation.
func (c *Client) SubmitAttestation(ctx context.Context, att *Attestation) (*AppendResult, error) {
	var resp AppendResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/attestations/submit", att, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyAttestation checks an attestation without appending it.
func (c *Client) VerifyAttestation(ctx context.Context, att *Attestation) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/attestations/verify", att, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeAttestation marks an attestation revoked. Requires an admin token
// when the server is configured with an admin secret.
func (c *Client) RevokeAttestation(ctx context.Context, fingerprint, reason string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/attestations/"+fingerprint+"/revoke",
		map[string]any{"reason": reason}, nil)
}

// Chain returns a subject's attestation chain, oldest first.
func (c *Client) Chain(ctx context.Context, subjectID string, includeRevoked bool) ([]Attestation, error) {
	path := "/api/v1/chain/" + subjectID
	if includeRevoked {
		path += "?include_revoked=true"
	}
	var resp struct {
		Attestations []Attestation `json:"attestations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Attestations, nil
}

// Score computes an agent's trust score. evidence is an optional JSON array
// of tagged evidence envelopes, folded into this computation only.
func (c *Client) Score(ctx context.Context, agentID string, evidence json.RawMessage) (*TrustScore, error) {
	body := map[string]any{"agent_id": agentID}
	if len(evidence) > 0 {
		body["evidence"] = evidence
	}
	var resp TrustScore
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/trust/score", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransitiveTrust finds the strongest attestation path from source to target.
// maxHops of 0 uses the server default. A nil result means no path exists.
func (c *Client) TransitiveTrust(ctx context.Context, sourceID, targetID string, maxHops int) (*PathResult, error) {
	var resp *PathResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/chain/transitive", map[string]any{
		"source_agent_id": sourceID,
		"target_agent_id": targetID,
		"max_hops":        maxHops,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Certification evaluates the certification policy for an agent.
func (c *Client) Certification(ctx context.Context, agentID string) (*Certification, error) {
	var resp Certification
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/trust/certification/"+agentID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BasisPoints returns an agent's overall score as integer basis points.
func (c *Client) BasisPoints(ctx context.Context, agentID string) (*BasisPoints, error) {
	var resp BasisPoints
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/trust/basis-points/"+agentID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LedgerVersion returns the ledger version counter. The version advances on
// every append and revocation.
func (c *Client) LedgerVersion(ctx context.Context) (int64, error) {
	var resp struct {
		Version int64 `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/version", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// doJSON performs a JSON request against the API. respBody may be nil when
// the response payload is not needed.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var buf io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Kind != "" {
				return fmt.Errorf("api error %d (%s): %s", resp.StatusCode, apiErr.Kind, apiErr.Error)
			}
			return fmt.Errorf("api error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if respBody == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
