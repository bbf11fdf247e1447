package signal

import (
	"encoding/json"
	"fmt"
)

// Evidence is one externally resolved, pre-scored observation for a named
// signal. The set of evidence kinds is closed: each signal has exactly one
// typed variant, so the aggregator can switch exhaustively instead of
// trusting open maps.
type Evidence interface {
	// SignalName names the model signal this evidence feeds.
	SignalName() string
	// Sample reduces the typed fields to a (score, confidence) pair,
	// both in [0,1].
	Sample() (score, confidence float64)
	// Describe returns a short human-readable summary for API responses.
	Describe() string

	isEvidence()
}

// PlatformReputation is aggregate reputation scraped from an identity
// platform, already normalized to [0,1] upstream.
type PlatformReputation struct {
	Platform string  `json:"platform"`
	Rating   float64 `json:"rating"`  // normalized [0,1]
	Samples  int     `json:"samples"` // review/interaction count behind the rating
}

func (PlatformReputation) isEvidence()        {}
func (PlatformReputation) SignalName() string { return SignalPlatformReputation }

func (e PlatformReputation) Sample() (float64, float64) {
	conf := float64(e.Samples) / 20.0
	if conf > 1 {
		conf = 1
	}
	return clamp01(e.Rating), conf
}

func (e PlatformReputation) Describe() string {
	return fmt.Sprintf("%s rating %.2f over %d samples", e.Platform, e.Rating, e.Samples)
}

// IdentityVerification records whether an identity check passed and how
// strong the method was.
type IdentityVerification struct {
	Method   string `json:"method"` // "dns", "domain", "government_id", ...
	Verified bool   `json:"verified"`
}

func (IdentityVerification) isEvidence()        {}
func (IdentityVerification) SignalName() string { return SignalIdentityVerification }

func (e IdentityVerification) Sample() (float64, float64) {
	if !e.Verified {
		return 0, 1
	}
	switch e.Method {
	case "government_id":
		return 1.0, 1
	case "domain", "dns":
		return 0.8, 1
	default:
		return 0.5, 1
	}
}

func (e IdentityVerification) Describe() string {
	if e.Verified {
		return "identity verified via " + e.Method
	}
	return "identity verification failed via " + e.Method
}

// CrossPlatformConsistency measures how consistently the agent's claimed
// identity and track record match across platforms.
type CrossPlatformConsistency struct {
	Platforms  int     `json:"platforms"`   // number of platforms compared
	MatchRatio float64 `json:"match_ratio"` // fraction of fields that agree, [0,1]
}

func (CrossPlatformConsistency) isEvidence()        {}
func (CrossPlatformConsistency) SignalName() string { return SignalCrossPlatformConsistency }

func (e CrossPlatformConsistency) Sample() (float64, float64) {
	if e.Platforms < 2 {
		// A single platform cannot be inconsistent with itself.
		return 0, 0
	}
	conf := float64(e.Platforms) / 4.0
	if conf > 1 {
		conf = 1
	}
	return clamp01(e.MatchRatio), conf
}

func (e CrossPlatformConsistency) Describe() string {
	return fmt.Sprintf("%.0f%% match across %d platforms", e.MatchRatio*100, e.Platforms)
}

// evidenceEnvelope is the JSON wire form: the signal name tags which
// variant the payload decodes into.
type evidenceEnvelope struct {
	Signal  string          `json:"signal"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEvidence decodes a JSON array of tagged evidence envelopes.
// Unknown signal names are rejected rather than ignored.
func ParseEvidence(data []byte) ([]Evidence, error) {
	var envelopes []evidenceEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("parse evidence: %w", err)
	}

	out := make([]Evidence, 0, len(envelopes))
	for i, env := range envelopes {
		ev, err := decodeEvidence(env)
		if err != nil {
			return nil, fmt.Errorf("evidence[%d]: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeEvidence(env evidenceEnvelope) (Evidence, error) {
	switch env.Signal {
	case SignalPlatformReputation:
		var e PlatformReputation
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case SignalIdentityVerification:
		var e IdentityVerification
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case SignalCrossPlatformConsistency:
		var e CrossPlatformConsistency
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown signal %q", env.Signal)
	}
}

// MarshalEvidence encodes evidence back into tagged envelopes.
func MarshalEvidence(evs []Evidence) ([]byte, error) {
	envelopes := make([]evidenceEnvelope, 0, len(evs))
	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, evidenceEnvelope{Signal: ev.SignalName(), Payload: payload})
	}
	return json.Marshal(envelopes)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
