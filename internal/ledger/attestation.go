package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Attestation is a single signed claim in the ledger. All fields except Seq,
// Revoked, and RevokedReason are set by the witness at creation time and are
// immutable; Seq is assigned by the store on insert.
type Attestation struct {
	Fingerprint   string    `json:"fingerprint"              db:"fingerprint"`
	WitnessID     string    `json:"witness_id"               db:"witness_id"`
	SubjectID     string    `json:"subject_id"               db:"subject_id"`
	Task          string    `json:"task"                     db:"task"`
	Evidence      string    `json:"evidence"                 db:"evidence"`
	Timestamp     time.Time `json:"timestamp"                db:"timestamp"`
	Signature     string    `json:"signature"                db:"signature"`      // hex-encoded raw Ed25519 signature
	WitnessPubKey string    `json:"witness_pubkey"           db:"witness_pubkey"` // hex-encoded, enables offline verification
	Seq           int64     `json:"seq"                      db:"seq"`
	Revoked       bool      `json:"revoked"                  db:"revoked"`
	RevokedReason string    `json:"revoked_reason,omitempty" db:"revoked_reason"`
}

// canonicalPayload produces the byte string the witness signs. Each field is
// length-prefixed so no concatenation of field values can collide with
// another ("ab"+"c" vs "a"+"bc"). The field order is fixed: witness, subject,
// task, evidence, timestamp. The timestamp is rendered as RFC 3339 with
// nanoseconds in UTC.
func canonicalPayload(witnessID, subjectID, task, evidence string, ts time.Time) []byte {
	buf := make([]byte, 0, len(witnessID)+len(subjectID)+len(task)+len(evidence)+64)
	buf = appendField(buf, witnessID)
	buf = appendField(buf, subjectID)
	buf = appendField(buf, task)
	buf = appendField(buf, evidence)
	buf = appendField(buf, ts.UTC().Format(time.RFC3339Nano))
	return buf
}

// appendField appends a 4-byte big-endian length followed by the UTF-8 field.
func appendField(buf []byte, field string) []byte {
	n := len(field)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, field...)
}

// fingerprint computes the content address of an attestation: the SHA-256 of
// its canonical payload and signature. Identical submissions hash to the same
// fingerprint, which is what makes Append idempotent.
func fingerprint(canonical, signature []byte) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write(signature)
	return hex.EncodeToString(h.Sum(nil))
}

// Create builds and signs a new attestation. The witness id must differ from
// the subject id and all text fields must be non-empty; Create performs the
// same structural checks Verify would, so a created attestation always
// verifies.
func Create(witnessID, subjectID, task, evidence string, priv ed25519.PrivateKey) (*Attestation, error) {
	return createAt(witnessID, subjectID, task, evidence, priv, time.Now().UTC())
}

// CreateAt is Create with an explicit timestamp, for deterministic tests and
// for replaying externally produced attestations.
func CreateAt(witnessID, subjectID, task, evidence string, priv ed25519.PrivateKey, ts time.Time) (*Attestation, error) {
	return createAt(witnessID, subjectID, task, evidence, priv, ts)
}

func createAt(witnessID, subjectID, task, evidence string, priv ed25519.PrivateKey, ts time.Time) (*Attestation, error) {
	if witnessID == "" || subjectID == "" || task == "" || evidence == "" {
		return nil, errMalformed("witness_id, subject_id, task, and evidence are all required")
	}
	if witnessID == subjectID {
		return nil, errSelfAttestation(witnessID)
	}

	ts = ts.UTC()
	canonical := canonicalPayload(witnessID, subjectID, task, evidence, ts)
	sig := ed25519.Sign(priv, canonical)
	pub := priv.Public().(ed25519.PublicKey)

	return &Attestation{
		Fingerprint:   fingerprint(canonical, sig),
		WitnessID:     witnessID,
		SubjectID:     subjectID,
		Task:          task,
		Evidence:      evidence,
		Timestamp:     ts,
		Signature:     hex.EncodeToString(sig),
		WitnessPubKey: hex.EncodeToString(pub),
	}, nil
}
