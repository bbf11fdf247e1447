// Package jwk encodes and decodes Ed25519 key pairs as JSON Web Keys
// per RFC 8037 (OKP key type, Ed25519 curve). It is the interchange
// format used by the Attestra API and CLI; raw key bytes never appear
// on the wire outside a JWK envelope.
package jwk

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Key is the JSON form of an Ed25519 key per RFC 8037 §2.
// D is present only for private keys and is never returned by the API.
type Key struct {
	Kty string `json:"kty"`           // always "OKP"
	Crv string `json:"crv"`           // always "Ed25519"
	X   string `json:"x"`             // base64url public key, no padding
	D   string `json:"d,omitempty"`   // base64url private seed, no padding
	Kid string `json:"kid,omitempty"` // optional key id (agent id)
}

var (
	// ErrNotEd25519 is returned when a JWK is well-formed JSON but is not
	// an OKP/Ed25519 key.
	ErrNotEd25519 = errors.New("jwk: not an Ed25519 OKP key")

	// ErrNoPrivateKey is returned by DecodePrivate when the "d" parameter
	// is absent.
	ErrNoPrivateKey = errors.New("jwk: missing private key parameter")
)

// Generate creates a fresh Ed25519 key pair and returns its JWK form
// with both public and private parameters populated.
func Generate() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Key{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
		D:   base64.RawURLEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// FromPublic wraps an existing public key in a JWK envelope.
func FromPublic(pub ed25519.PublicKey) *Key {
	return &Key{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// Public returns the JWK with the private parameter stripped.
func (k *Key) Public() *Key {
	cp := *k
	cp.D = ""
	return &cp
}

// PublicKey decodes the "x" parameter into an ed25519.PublicKey.
func (k *Key) PublicKey() (ed25519.PublicKey, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, ErrNotEd25519
	}
	raw, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("jwk: decode x: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwk: public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// PrivateKey decodes the "d" parameter into an ed25519.PrivateKey.
// The "d" parameter holds the 32-byte seed per RFC 8037.
func (k *Key) PrivateKey() (ed25519.PrivateKey, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, ErrNotEd25519
	}
	if k.D == "" {
		return nil, ErrNoPrivateKey
	}
	seed, err := base64.RawURLEncoding.DecodeString(k.D)
	if err != nil {
		return nil, fmt.Errorf("jwk: decode d: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwk: private seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Parse decodes a JWK from its JSON encoding and validates the key type.
func Parse(data []byte) (*Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("jwk: parse: %w", err)
	}
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, ErrNotEd25519
	}
	return &k, nil
}
