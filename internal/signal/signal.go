// Package signal computes confidence-weighted trust scores from an agent's
// attestation chain and externally supplied, pre-scored signal evidence.
//
// A score model is a fixed, versioned set of named signals whose base
// weights sum to 1.0. Each signal contributes score × weight × confidence to
// the overall number; a signal with zero confidence drops out of both the
// numerator and the denominator instead of dragging the result toward zero.
// The attestation-derived signal (delivery track record) decays
// exponentially with evidence age, so a stale chain is worth less than a
// fresh one but never scores negative.
//
// Computation is pure: for a fixed (chain snapshot, evidence snapshot, now)
// the output is identical across calls.
package signal

import (
	"sort"
	"time"
)

// Signal names of score model v1.
const (
	SignalPlatformReputation       = "platform_reputation"
	SignalDeliveryTrackRecord      = "delivery_track_record"
	SignalIdentityVerification     = "identity_verification"
	SignalCrossPlatformConsistency = "cross_platform_consistency"
)

// Model is a versioned signal set. Weights must sum to 1.0.
type Model struct {
	Version  string
	Weights  map[string]float64
	HalfLife time.Duration // evidence half-life for the attestation-derived signal
}

// ModelV1 returns the default score model.
func ModelV1() Model {
	return Model{
		Version: "v1",
		Weights: map[string]float64{
			SignalPlatformReputation:       0.30,
			SignalDeliveryTrackRecord:      0.35,
			SignalIdentityVerification:     0.20,
			SignalCrossPlatformConsistency: 0.15,
		},
		HalfLife: 90 * 24 * time.Hour,
	}
}

// names returns the model's signal names in a fixed, deterministic order.
func (m Model) names() []string {
	out := make([]string, 0, len(m.Weights))
	for name := range m.Weights {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SignalScore is one named signal's contribution to a trust score.
type SignalScore struct {
	Name            string  `json:"name"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	Confidence      float64 `json:"confidence"`
	EffectiveWeight float64 `json:"effective_weight"`
	Evidence        string  `json:"evidence,omitempty"`
}

// TrustScore is the derived, reproducible score for an agent. It is never
// the source of truth; the chain and the evidence snapshot are.
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
