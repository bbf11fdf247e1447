package signal_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/attestra/attestra/internal/keyregistry"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/signal"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	ledger  *ledger.Ledger
	reg     *keyregistry.Registry
	witness string
	wpriv   ed25519.PrivateKey
	subject string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := keyregistry.New(keyregistry.NewMemoryStore())
	l := ledger.New(reg, ledger.NewMemoryStore(), nil, zap.NewNop())

	wpub, wpriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	spub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	wid := keyregistry.DeriveAgentID(wpub)
	sid := keyregistry.DeriveAgentID(spub)
	if err := reg.Register(ctx, wid, wpub); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, sid, spub); err != nil {
		t.Fatal(err)
	}
	return &fixture{ledger: l, reg: reg, witness: wid, wpriv: wpriv, subject: sid}
}

func (f *fixture) attest(t *testing.T, task string, at time.Time) {
	t.Helper()
	att, err := ledger.CreateAt(f.witness, f.subject, task, "job", f.wpriv, at)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Append(ctx, att); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) chain(t *testing.T) []*ledger.Attestation {
	t.Helper()
	c, err := f.ledger.Chain(ctx, f.subject)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCompute_deterministic(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.attest(t, "code-review", now.Add(-time.Hour))

	m := signal.ModelV1()
	evidence := []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.9, Samples: 50},
		signal.IdentityVerification{Method: "domain", Verified: true},
	}

	a, err := m.Compute(f.subject, f.chain(t), evidence, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Compute(f.subject, f.chain(t), evidence, now)
	if err != nil {
		t.Fatal(err)
	}
	if a.Overall != b.Overall || a.TotalConfidence != b.TotalConfidence {
		t.Errorf("identical inputs produced different outputs: %v vs %v", a.Overall, b.Overall)
	}
	for i := range a.Signals {
		if a.Signals[i] != b.Signals[i] {
			t.Errorf("signal %s differs between identical computations", a.Signals[i].Name)
		}
	}
}

func TestCompute_noConfidentSignalScoresZero(t *testing.T) {
	m := signal.ModelV1()
	score, err := m.Compute("ag_nobody", nil, nil, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if score.Overall != 0 {
		t.Errorf("empty inputs: overall = %v, want 0", score.Overall)
	}
	if score.TotalConfidence != 0 {
		t.Errorf("empty inputs: total_confidence = %v, want 0", score.TotalConfidence)
	}
}

// A zero-confidence signal must drop out of the weighting entirely rather
// than pull the overall toward zero by brute weight.
func TestCompute_zeroConfidenceSignalDropsOut(t *testing.T) {
	m := signal.ModelV1()
	now := time.Now().UTC()

	withUseless, err := m.Compute("ag_x", nil, []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.9, Samples: 50},
		signal.CrossPlatformConsistency{Platforms: 1, MatchRatio: 0}, // zero confidence
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	without, err := m.Compute("ag_x", nil, []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.9, Samples: 50},
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	if withUseless.Overall != without.Overall {
		t.Errorf("zero-confidence signal changed overall: %v vs %v", withUseless.Overall, without.Overall)
	}
}

func TestCompute_appendMonotonicity(t *testing.T) {
	f := newFixture(t)
	m := signal.ModelV1()
	now := time.Now().UTC()
	evidence := []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.4, Samples: 50},
	}

	prev := 0.0
	for i := 0; i < 8; i++ {
		f.attest(t, "delivery", now.Add(-time.Duration(i+1)*time.Minute))
		score, err := m.Compute(f.subject, f.chain(t), evidence, now)
		if err != nil {
			t.Fatal(err)
		}
		if score.Overall < prev {
			t.Errorf("after %d attestations overall dropped: %v -> %v", i+1, prev, score.Overall)
		}
		prev = score.Overall
	}
}

func TestCompute_decayMonotonicity(t *testing.T) {
	f := newFixture(t)
	m := signal.ModelV1()
	t0 := time.Now().UTC()
	f.attest(t, "delivery", t0)
	chain := f.chain(t)

	prev := 2.0
	for _, advance := range []time.Duration{0, 24 * time.Hour, 30 * 24 * time.Hour, 365 * 24 * time.Hour, 10 * 365 * 24 * time.Hour} {
		score, err := m.Compute(f.subject, chain, nil, t0.Add(advance))
		if err != nil {
			t.Fatal(err)
		}
		if score.Overall < 0 {
			t.Errorf("overall went negative at +%v: %v", advance, score.Overall)
		}
		if score.Overall > prev {
			t.Errorf("overall increased as time advanced at +%v: %v -> %v", advance, prev, score.Overall)
		}
		prev = score.Overall
	}
}

// With a single-signal model at weight 1 and full confidence, the overall
// equals that signal's raw score.
func TestCompute_singleSignalPassThrough(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.attest(t, "code-review", now)

	m := signal.Model{
		Version:  "test",
		Weights:  map[string]float64{signal.SignalDeliveryTrackRecord: 1.0},
		HalfLife: 90 * 24 * time.Hour,
	}
	score, err := m.Compute(f.subject, f.chain(t), nil, now)
	if err != nil {
		t.Fatal(err)
	}

	var raw float64
	for _, sig := range score.Signals {
		if sig.Name == signal.SignalDeliveryTrackRecord {
			raw = sig.Score
			if sig.Confidence != 1 {
				t.Errorf("delivery confidence = %v, want 1", sig.Confidence)
			}
		}
	}
	if score.Overall != raw {
		t.Errorf("overall = %v, want raw signal score %v", score.Overall, raw)
	}
}

func TestCompute_rejectsUnknownSignalEvidence(t *testing.T) {
	m := signal.Model{
		Version:  "narrow",
		Weights:  map[string]float64{signal.SignalDeliveryTrackRecord: 1.0},
		HalfLife: 90 * 24 * time.Hour,
	}
	_, err := m.Compute("ag_x", nil, []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.5, Samples: 10},
	}, time.Now().UTC())
	if err == nil {
		t.Error("evidence for a signal outside the model must be rejected")
	}
}

func TestParseEvidence_roundTrip(t *testing.T) {
	in := []signal.Evidence{
		signal.PlatformReputation{Platform: "github", Rating: 0.9, Samples: 30},
		signal.IdentityVerification{Method: "dns", Verified: true},
		signal.CrossPlatformConsistency{Platforms: 3, MatchRatio: 0.8},
	}
	data, err := signal.MarshalEvidence(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := signal.ParseEvidence(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip length: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("evidence[%d] changed in round trip: %#v vs %#v", i, out[i], in[i])
		}
	}
}

func TestParseEvidence_unknownSignal(t *testing.T) {
	_, err := signal.ParseEvidence([]byte(`[{"signal":"astrology","payload":{}}]`))
	if err == nil {
		t.Error("unknown signal name must be rejected")
	}
}

func TestService_memoizesAcrossCalls(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.attest(t, "code-review", now.Add(-time.Hour))

	svc := signal.NewService(signal.ModelV1(), f.ledger, nil, nil, zap.NewNop())
	a, err := svc.Score(ctx, f.subject, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Score(ctx, f.subject, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second Score with unchanged ledger should return the memoized value")
	}

	// A new attestation must invalidate the memo.
	f.attest(t, "deploy", now)
	c, err := svc.Score(ctx, f.subject, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c == b {
		t.Error("Score after ledger change returned the stale memoized value")
	}
	if c.Overall < b.Overall {
		t.Errorf("extra attestation lowered overall: %v -> %v", b.Overall, c.Overall)
	}
}

func TestService_recordsComputationsNotCacheHits(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.attest(t, "code-review", now.Add(-time.Hour))

	svc := signal.NewService(signal.ModelV1(), f.ledger, nil, nil, zap.NewNop())
	computations := 0
	svc.SetMetricsRecorder(func() { computations++ })

	if _, err := svc.Score(ctx, f.subject, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Score(ctx, f.subject, nil); err != nil {
		t.Fatal(err)
	}
	if computations != 1 {
		t.Errorf("recorded %d computations after a cache hit, want 1", computations)
	}

	f.attest(t, "deploy", now)
	if _, err := svc.Score(ctx, f.subject, nil); err != nil {
		t.Fatal(err)
	}
	if computations != 2 {
		t.Errorf("recorded %d computations after ledger change, want 2", computations)
	}
}

type captureNotifier struct {
	events []string
}

func (n *captureNotifier) Notify(_ context.Context, eventType string, _ map[string]string) {
	n.events = append(n.events, eventType)
}

func TestService_emitsScoreUpdated(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.attest(t, "code-review", now.Add(-time.Hour))

	n := &captureNotifier{}
	svc := signal.NewService(signal.ModelV1(), f.ledger, nil, n, zap.NewNop())

	if _, err := svc.Score(ctx, f.subject, nil); err != nil {
		t.Fatal(err)
	}
	if len(n.events) != 0 {
		t.Fatalf("first computation emitted %v, want none", n.events)
	}

	f.attest(t, "deploy", now)
	if _, err := svc.Score(ctx, f.subject, nil); err != nil {
		t.Fatal(err)
	}
	if len(n.events) != 1 || n.events[0] != signal.EventScoreUpdated {
		t.Errorf("events after change: %v, want [score.updated]", n.events)
	}
}
