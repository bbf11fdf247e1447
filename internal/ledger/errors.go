package ledger

import "fmt"

// Kind is a stable, machine-readable classification for a verification
// failure. Kinds appear verbatim in API error responses.
type Kind string

const (
	KindInvalidSignature Kind = "invalid_signature"
	KindKeyMismatch      Kind = "key_mismatch"
	KindSelfAttestation  Kind = "self_attestation"
	KindFutureTimestamp  Kind = "future_timestamp"
	KindUnknownAgent     Kind = "unknown_agent"
	KindMalformedPayload Kind = "malformed_payload"
)

// VerifyError is a terminal verification failure. Retrying the same
// attestation cannot succeed, so callers must not retry on VerifyError.
type VerifyError struct {
	Kind Kind
	msg  string
}

func (e *VerifyError) Error() string {
	return string(e.Kind) + ": " + e.msg
}

// IsVerifyError reports whether err is a VerifyError and, if so, its kind.
func IsVerifyError(err error) (Kind, bool) {
	if ve, ok := err.(*VerifyError); ok {
		return ve.Kind, true
	}
	return "", false
}

func errMalformed(msg string) *VerifyError {
	return &VerifyError{Kind: KindMalformedPayload, msg: msg}
}

func errSelfAttestation(id string) *VerifyError {
	return &VerifyError{Kind: KindSelfAttestation, msg: fmt.Sprintf("agent %s cannot attest itself", id)}
}

func errUnknownAgent(id string) *VerifyError {
	return &VerifyError{Kind: KindUnknownAgent, msg: fmt.Sprintf("witness %s is not registered", id)}
}

func errKeyMismatch(id string) *VerifyError {
	return &VerifyError{Kind: KindKeyMismatch, msg: fmt.Sprintf("embedded public key does not match registered key for %s", id)}
}

func errInvalidSignature() *VerifyError {
	return &VerifyError{Kind: KindInvalidSignature, msg: "signature does not verify over the canonical payload"}
}

func errFutureTimestamp(skew string) *VerifyError {
	return &VerifyError{Kind: KindFutureTimestamp, msg: "timestamp is more than " + skew + " in the future"}
}
