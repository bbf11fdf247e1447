package ledger

import "context"

// AppendOutcome reports what an idempotent insert did.
type AppendOutcome int

const (
	// Inserted means the attestation was new and is now on the chain.
	Inserted AppendOutcome = iota
	// Duplicate means a byte-identical attestation was already on the
	// chain; nothing was mutated.
	Duplicate
)

func (o AppendOutcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "inserted"
}

// Store is the persistence interface for attestation chains. Implementations
// must serialize inserts per subject so the duplicate-check-then-insert
// sequence is atomic; inserts for different subjects may run in parallel.
type Store interface {
	// Insert adds a verified attestation to its subject's chain, assigning
	// Seq. Inserting an attestation whose fingerprint is already present
	// returns Duplicate and leaves the chain untouched.
	Insert(ctx context.Context, att *Attestation) (AppendOutcome, error)

	// Chain returns the subject's attestations ordered by (timestamp, seq)
	// ascending. Revoked records are excluded unless includeRevoked is set.
	Chain(ctx context.Context, subjectID string, includeRevoked bool) ([]*Attestation, error)

	// Revoke marks the attestation with the given fingerprint revoked.
	// The record stays on the chain for audit.
	Revoke(ctx context.Context, fp, reason string) error

	// All returns every attestation in the ledger, ordered by (timestamp,
	// seq) ascending. Used to build the trust graph snapshot.
	All(ctx context.Context, includeRevoked bool) ([]*Attestation, error)

	// Version returns a value that changes whenever the ledger content
	// changes (insert or revoke). Callers may memoize derived scores
	// against it.
	Version(ctx context.Context) (int64, error)
}
