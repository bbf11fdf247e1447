package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/attestra/attestra/internal/keyregistry"
	"go.uber.org/zap"
)

// Event types emitted by the ledger.
const (
	EventAttestationCreated = "attestation.created"
	EventChainExtended      = "chain.extended"
)

// DefaultClockSkew is how far in the future an attestation timestamp may be
// before verification rejects it.
const DefaultClockSkew = 5 * time.Minute

// Notifier receives outbound ledger events. Delivery is fire-and-forget from
// the ledger's point of view; retries and subscriber management live behind
// this interface. *events.Service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]string)
}

// MetricsRecorder is an optional callback invoked after each successful insert.
type MetricsRecorder func()

// Ledger validates and appends attestations over a Store, consulting the key
// registry for witness identity.
type Ledger struct {
	registry  *keyregistry.Registry
	store     Store
	notifier  Notifier // nil = no event emission
	onInsert  MetricsRecorder
	clockSkew time.Duration
	logger    *zap.Logger
}

// New creates a Ledger. notifier may be nil to disable event emission.
func New(registry *keyregistry.Registry, store Store, notifier Notifier, logger *zap.Logger) *Ledger {
	return &Ledger{
		registry:  registry,
		store:     store,
		notifier:  notifier,
		clockSkew: DefaultClockSkew,
		logger:    logger,
	}
}

// SetMetricsRecorder configures a callback invoked on every insert.
func (l *Ledger) SetMetricsRecorder(fn MetricsRecorder) {
	l.onInsert = fn
}

// SetClockSkew overrides the future-timestamp tolerance.
func (l *Ledger) SetClockSkew(d time.Duration) {
	l.clockSkew = d
}

// Verify checks an attestation against the registry and its own signature.
// Checks run in a fixed order: structure, self-attestation, witness identity,
// signature, timestamp. Every failure is terminal for this attestation.
func (l *Ledger) Verify(ctx context.Context, att *Attestation) error {
	return l.verifyAt(ctx, att, time.Now().UTC())
}

func (l *Ledger) verifyAt(ctx context.Context, att *Attestation, now time.Time) error {
	if att == nil {
		return errMalformed("attestation is required")
	}
	if att.WitnessID == "" || att.SubjectID == "" || att.Task == "" || att.Evidence == "" {
		return errMalformed("witness_id, subject_id, task, and evidence are all required")
	}
	if att.Timestamp.IsZero() {
		return errMalformed("timestamp is required")
	}
	if att.WitnessID == att.SubjectID {
		return errSelfAttestation(att.WitnessID)
	}

	registered, err := l.registry.Lookup(ctx, att.WitnessID)
	if err != nil {
		if errors.Is(err, keyregistry.ErrUnknownAgent) {
			return errUnknownAgent(att.WitnessID)
		}
		return fmt.Errorf("lookup witness key: %w", err)
	}

	embedded, err := hex.DecodeString(att.WitnessPubKey)
	if err != nil || len(embedded) != ed25519.PublicKeySize {
		return errKeyMismatch(att.WitnessID)
	}
	if !registered.Equal(ed25519.PublicKey(embedded)) {
		return errKeyMismatch(att.WitnessID)
	}

	sig, err := hex.DecodeString(att.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errInvalidSignature()
	}
	canonical := canonicalPayload(att.WitnessID, att.SubjectID, att.Task, att.Evidence, att.Timestamp)
	if !ed25519.Verify(registered, canonical, sig) {
		return errInvalidSignature()
	}

	if att.Timestamp.After(now.Add(l.clockSkew)) {
		return errFutureTimestamp(l.clockSkew.String())
	}
	return nil
}

// VerifyOffline checks the signature against the embedded witness key only,
// without consulting the registry. Anyone holding the attestation can run
// this check; it proves integrity but not that the witness is registered.
func VerifyOffline(att *Attestation) error {
	if att == nil || att.WitnessID == "" || att.SubjectID == "" || att.Task == "" || att.Evidence == "" {
		return errMalformed("witness_id, subject_id, task, and evidence are all required")
	}
	if att.WitnessID == att.SubjectID {
		return errSelfAttestation(att.WitnessID)
	}
	pub, err := hex.DecodeString(att.WitnessPubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errMalformed("witness_pubkey is not a valid Ed25519 key")
	}
	sig, err := hex.DecodeString(att.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errInvalidSignature()
	}
	canonical := canonicalPayload(att.WitnessID, att.SubjectID, att.Task, att.Evidence, att.Timestamp)
	if !ed25519.Verify(ed25519.PublicKey(pub), canonical, sig) {
		return errInvalidSignature()
	}
	return nil
}

// Append verifies the attestation and inserts it into its subject's chain.
// Safe to call twice with the same input: the second call reports Duplicate.
// On insert it emits attestation.created and chain.extended.
func (l *Ledger) Append(ctx context.Context, att *Attestation) (AppendOutcome, error) {
	if err := l.Verify(ctx, att); err != nil {
		return 0, err
	}

	// Recompute the fingerprint server-side; the client copy is untrusted.
	canonical := canonicalPayload(att.WitnessID, att.SubjectID, att.Task, att.Evidence, att.Timestamp)
	sig, _ := hex.DecodeString(att.Signature)
	att.Fingerprint = fingerprint(canonical, sig)

	outcome, err := l.store.Insert(ctx, att)
	if err != nil {
		return 0, fmt.Errorf("insert attestation: %w", err)
	}
	if outcome == Duplicate {
		return Duplicate, nil
	}

	if l.onInsert != nil {
		l.onInsert()
	}
	l.logger.Info("chain extended",
		zap.String("subject_id", att.SubjectID),
		zap.String("witness_id", att.WitnessID),
		zap.String("task", att.Task),
		zap.Int64("seq", att.Seq),
	)

	if l.notifier != nil {
		payload := map[string]string{
			"agent_id":    att.SubjectID,
			"witness_id":  att.WitnessID,
			"fingerprint": att.Fingerprint,
			"timestamp":   att.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		l.notifier.Notify(ctx, EventAttestationCreated, payload)
		l.notifier.Notify(ctx, EventChainExtended, payload)
	}
	return Inserted, nil
}

// Chain returns the subject's non-revoked attestations in chain order.
func (l *Ledger) Chain(ctx context.Context, subjectID string) ([]*Attestation, error) {
	return l.store.Chain(ctx, subjectID, false)
}

// ChainAudit returns the subject's full chain including revoked records.
func (l *Ledger) ChainAudit(ctx context.Context, subjectID string) ([]*Attestation, error) {
	return l.store.Chain(ctx, subjectID, true)
}

// Revoke marks an attestation revoked without removing it from the chain.
func (l *Ledger) Revoke(ctx context.Context, fp, reason string) error {
	if err := l.store.Revoke(ctx, fp, reason); err != nil {
		return err
	}
	l.logger.Info("attestation revoked", zap.String("fingerprint", fp), zap.String("reason", reason))
	return nil
}

// Snapshot returns every non-revoked attestation for trust graph builds.
func (l *Ledger) Snapshot(ctx context.Context) ([]*Attestation, error) {
	return l.store.All(ctx, false)
}

// Version exposes the store's change counter for score memoization.
func (l *Ledger) Version(ctx context.Context) (int64, error) {
	return l.store.Version(ctx)
}

// CheckIntegrity walks every stored attestation and re-verifies its
// signature and fingerprint offline. A failure here is a fatal bug or
// storage tampering, never a recoverable request error.
func (l *Ledger) CheckIntegrity(ctx context.Context) error {
	atts, err := l.store.All(ctx, true)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	for _, att := range atts {
		if err := VerifyOffline(att); err != nil {
			return fmt.Errorf("attestation %s failed integrity check: %w", att.Fingerprint, err)
		}
		canonical := canonicalPayload(att.WitnessID, att.SubjectID, att.Task, att.Evidence, att.Timestamp)
		sig, _ := hex.DecodeString(att.Signature)
		if fingerprint(canonical, sig) != att.Fingerprint {
			return fmt.Errorf("attestation %s has a forged fingerprint", att.Fingerprint)
		}
	}
	return nil
}
