// Package ledger implements the append-only attestation chain ledger.
//
// An attestation is a signed claim by a witness agent about a subject agent.
// The ledger verifies every attestation before it is appended: the witness
// must be registered, the embedded public key must match the registered one,
// and the Ed25519 signature must cover the canonical payload encoding.
// Verified attestations are appended to the subject's chain, ordered by
// (timestamp, sequence number). Chains only grow; an attestation is never
// edited or deleted, only marked revoked so the audit trail stays intact.
//
// Append is idempotent: re-submitting a byte-identical attestation reports
// Duplicate without mutating the chain, which makes caller-side retry of
// storage failures safe.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger
