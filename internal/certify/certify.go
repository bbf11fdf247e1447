// Package certify applies threshold and TTL policy to trust scores to grant
// or deny certification. Every evaluation is a fresh computation from the
// current aggregator output — there is no incremental renewal, so an agent
// whose score has decayed below threshold loses certification on the next
// evaluation regardless of any previously stored expiry.
package certify

import (
	"context"
	"fmt"
	"time"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/signal"
	"go.uber.org/zap"
)

// Policy holds the certification criteria.
type Policy struct {
	Threshold       float64       // minimum overall score, inclusive
	MinConfidence   float64       // minimum total confidence, inclusive
	MinAttestations int           // minimum non-revoked chain length
	TTL             time.Duration // validity window stamped on grants
}

// DefaultPolicy returns the stock certification policy.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:       0.70,
		MinConfidence:   0.50,
		MinAttestations: 3,
		TTL:             30 * 24 * time.Hour,
	}
}

// Certification is the derived certification state for an agent.
type Certification struct {
	AgentID   string     `json:"agent_id"`
	Certified bool       `json:"certified"`
	Reason    string     `json:"reason,omitempty"` // set when not certified
	Overall   float64    `json:"overall"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Engine evaluates certification policy against live scores.
type Engine struct {
	policy Policy
	scores *signal.Service
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewEngine creates a certification Engine.
func NewEngine(policy Policy, scores *signal.Service, l *ledger.Ledger, logger *zap.Logger) *Engine {
	return &Engine{policy: policy, scores: scores, ledger: l, logger: logger}
}

// Policy returns the engine's active policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Evaluate computes the agent's certification from scratch. All thresholds
// are closed intervals: a score exactly at the threshold certifies.
func (e *Engine) Evaluate(ctx context.Context, agentID string) (*Certification, error) {
	score, err := e.scores.Score(ctx, agentID, nil)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}

	chain, err := e.ledger.Chain(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	cert := &Certification{
		AgentID:  agentID,
		Overall:  score.Overall,
		IssuedAt: score.ComputedAt,
	}

	switch {
	case len(chain) < e.policy.MinAttestations:
		cert.Reason = fmt.Sprintf("chain has %d non-revoked attestations, need %d", len(chain), e.policy.MinAttestations)
	case score.TotalConfidence < e.policy.MinConfidence:
		cert.Reason = fmt.Sprintf("total confidence %.3f below minimum %.3f", score.TotalConfidence, e.policy.MinConfidence)
	case score.Overall < e.policy.Threshold:
		cert.Reason = fmt.Sprintf("overall %.3f below threshold %.3f", score.Overall, e.policy.Threshold)
	default:
		cert.Certified = true
		expires := score.ComputedAt.Add(e.policy.TTL)
		cert.ExpiresAt = &expires
	}

	e.logger.Debug("certification evaluated",
		zap.String("agent_id", agentID),
		zap.Bool("certified", cert.Certified),
		zap.Float64("overall", score.Overall),
	)
	return cert, nil
}
