// Package keyregistry maps agent identifiers to their Ed25519 public keys.
//
// Agent identifiers are derived deterministically from the public key, so an
// identity can be computed offline before it is ever registered. Keys are
// write-once per agent: replacing a key requires a rotation proof signed by
// the key being replaced, and rotation fails closed when that proof does not
// verify. Rotation never retroactively invalidates attestations made under
// the old key — attestations embed the witness public key they were verified
// against.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package keyregistry

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateAgent is returned by Register when the agent id already
	// has a key on record.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrUnknownAgent is returned when no key is on record for an agent id.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidRotationProof is returned by Rotate when the rotation
	// payload is not signed by the currently registered key.
	ErrInvalidRotationProof = errors.New("rotation proof does not verify against current key")
)

// Store is the persistence interface for agent public keys.
type Store interface {
	// Put records a key for an agent. When expectEmpty is true the write
	// fails with ErrDuplicateAgent if any key is already present; otherwise
	// the existing key is replaced (rotation).
	Put(ctx context.Context, agentID string, pub ed25519.PublicKey, expectEmpty bool) error

	// Get returns the current key for an agent, or ErrUnknownAgent.
	Get(ctx context.Context, agentID string) (ed25519.PublicKey, error)

	// Count returns the number of registered agents.
	Count(ctx context.Context) (int, error)
}

// Registry validates and serves agent key material over a Store.
type Registry struct {
	store Store
}

// New creates a Registry over the given store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// DeriveAgentID computes the canonical agent identifier for a public key:
// "ag_" followed by the first 16 bytes of SHA-256(pub), hex-encoded.
func DeriveAgentID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ag_" + hex.EncodeToString(sum[:16])
}

// Register records a new agent key. The agent id must match the id derived
// from the key, which prevents registering someone else's key under a
// different name.
func (r *Registry) Register(ctx context.Context, agentID string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	if derived := DeriveAgentID(pub); agentID != derived {
		return fmt.Errorf("agent id %q does not match key-derived id %q", agentID, derived)
	}
	return r.store.Put(ctx, agentID, pub, true)
}

// Lookup returns the current public key for an agent.
func (r *Registry) Lookup(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	return r.store.Get(ctx, agentID)
}

// Count returns the number of registered agents.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// rotationPayload is the canonical byte string an old key must sign to
// authorize replacement by newPub. Length prefixes keep the agent id and
// key bytes unambiguous.
func rotationPayload(agentID string, newPub ed25519.PublicKey) []byte {
	buf := make([]byte, 0, len(agentID)+len(newPub)+16)
	buf = appendLenPrefixed(buf, []byte("rotate"))
	buf = appendLenPrefixed(buf, []byte(agentID))
	buf = appendLenPrefixed(buf, newPub)
	return buf
}

// appendLenPrefixed appends a 4-byte big-endian length followed by the field.
func appendLenPrefixed(buf, field []byte) []byte {
	n := len(field)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, field...)
}

// SignRotation produces the rotation proof for Rotate: the old key's
// signature over the canonical rotation payload.
func SignRotation(oldPriv ed25519.PrivateKey, agentID string, newPub ed25519.PublicKey) []byte {
	return ed25519.Sign(oldPriv, rotationPayload(agentID, newPub))
}

// Rotate replaces an agent's key after verifying that proof is the old key's
// signature over the canonical rotation payload. The agent id is unchanged by
// rotation even though it was derived from the old key; identity is anchored
// at first registration.
func (r *Registry) Rotate(ctx context.Context, agentID string, newPub ed25519.PublicKey, proof []byte) error {
	if len(newPub) != ed25519.PublicKeySize {
		return fmt.Errorf("new public key is %d bytes, want %d", len(newPub), ed25519.PublicKeySize)
	}
	oldPub, err := r.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if !ed25519.Verify(oldPub, rotationPayload(agentID, newPub), proof) {
		return ErrInvalidRotationProof
	}
	return r.store.Put(ctx, agentID, newPub, false)
}
