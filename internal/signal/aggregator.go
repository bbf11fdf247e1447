package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/attestra/attestra/internal/ledger"
)

// deliveryPseudoCount controls how fast the delivery track record saturates:
// with k pseudo-observations, n fresh attestations score n/(n+k).
const deliveryPseudoCount = 2.0

// Compute derives the trust score for an agent from a chain snapshot and an
// external evidence snapshot, as of now. The result is deterministic for
// fixed inputs. Revoked attestations must already be excluded from chain.
func (m Model) Compute(agentID string, chain []*ledger.Attestation, external []Evidence, now time.Time) (*TrustScore, error) {
	lambda := math.Ln2 / m.HalfLife.Seconds()

	// Fold external evidence per signal: confidence-weighted mean score,
	// mean confidence. Unknown signals are a caller bug, not a skip.
	type folded struct {
		scoreSum, confSum float64
		n                 int
		desc              string
	}
	byName := make(map[string]*folded)
	for _, ev := range external {
		name := ev.SignalName()
		if _, ok := m.Weights[name]; !ok {
			return nil, fmt.Errorf("evidence for signal %q not in model %s", name, m.Version)
		}
		score, conf := ev.Sample()
		f := byName[name]
		if f == nil {
			f = &folded{}
			byName[name] = f
		}
		f.scoreSum += score * conf
		f.confSum += conf
		f.n++
		if f.desc == "" {
			f.desc = ev.Describe()
		}
	}

	signals := make([]SignalScore, 0, len(m.Weights))
	var num, effSum, weightSum float64
	decayFactor := 1.0

	for _, name := range m.names() {
		weight := m.Weights[name]
		weightSum += weight

		var score, conf float64
		var desc string

		if name == SignalDeliveryTrackRecord {
			var freshest float64
			score, conf, freshest = deliverySignal(chain, lambda, now)
			if len(chain) > 0 {
				decayFactor = freshest
				desc = fmt.Sprintf("%d attestations on chain", len(chain))
			}
		} else if f, ok := byName[name]; ok {
			if f.confSum > 0 {
				score = f.scoreSum / f.confSum
			}
			conf = f.confSum / float64(f.n)
			desc = f.desc
		}

		eff := weight * conf
		signals = append(signals, SignalScore{
			Name:            name,
			Score:           score,
			Weight:          weight,
			Confidence:      conf,
			EffectiveWeight: eff,
			Evidence:        desc,
		})

		// Zero-confidence signals drop out of both sums.
		num += score * eff
		effSum += eff
	}

	overall := 0.0
	if effSum > 0 {
		overall = num / effSum
	}
	totalConf := 0.0
	if weightSum > 0 {
		totalConf = effSum / weightSum
	}

	return &TrustScore{
		AgentID:         agentID,
		Overall:         overall,
		Signals:         signals,
		TotalConfidence: totalConf,
		ComputedAt:      now.UTC(),
		DecayFactor:     decayFactor,
		ModelVersion:    m.Version,
	}, nil
}

// deliverySignal derives the attestation-based track record. Each chain
// entry contributes exp(-λ·age), so the effective count n decays toward
// zero as evidence ages but never goes negative; the score n/(n+k)
// saturates toward 1 as fresh attestations accumulate. Decay acts on the
// score so that advancing the clock can only lower the overall result;
// confidence is full once any attestation exists and zero on an empty
// chain, which keeps unattested agents out of the weighting entirely.
func deliverySignal(chain []*ledger.Attestation, lambda float64, now time.Time) (score, conf, freshest float64) {
	if len(chain) == 0 {
		return 0, 0, 1
	}
	var n float64
	for _, att := range chain {
		age := now.Sub(att.Timestamp).Seconds()
		if age < 0 {
			age = 0 // within clock-skew tolerance; do not amplify
		}
		d := math.Exp(-lambda * age)
		n += d
		if d > freshest {
			freshest = d
		}
	}
	return n / (n + deliveryPseudoCount), 1, freshest
}

// AttestationStrength returns the decayed value a single attestation
// implies for its subject, in [0,1]. The trust graph uses this as the edge
// weight for the witness→subject relation.
func (m Model) AttestationStrength(att *ledger.Attestation, now time.Time) float64 {
	lambda := math.Ln2 / m.HalfLife.Seconds()
	age := now.Sub(att.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	return math.Exp(-lambda * age)
}
