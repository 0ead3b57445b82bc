// Package crypto provides the primitive operations (CryptoOps) the rest of
// the module builds on: keypairs and signing over secp256k1, hashing, HMAC,
// a slow KDF for hash-lock pre-images, and a CSPRNG. It is stateless; the
// CSPRNG is whatever crypto/rand wires up at process start.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PublicKeySize is the length in bytes of a friend's compressed identity.
const PublicKeySize = 33

// PrivateKey wraps an ecdsa.PrivateKey over secp256k1. Signing operations
// take it by reference; it is never copied or logged.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey is a friend identity: the 33-byte compressed SEC1 encoding of a
// secp256k1 point.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GeneratePrivateKey draws a fresh key from the CSPRNG.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes parses a 32-byte scalar into a PrivateKey.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.key)
}

// PubKey derives the corresponding PublicKey.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{key: &k.key.PublicKey}
}

// Bytes returns the 33-byte compressed identity.
func (p *PublicKey) Bytes() []byte {
	return ethcrypto.CompressPubkey(p.key)
}

// String renders the identity as a lowercase hex string, for logs and
// report attributes.
func (p *PublicKey) String() string {
	return fmt.Sprintf("%x", p.Bytes())
}

// Equal reports whether two identities are the same point.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return subtle.ConstantTimeCompare(p.Bytes(), other.Bytes()) == 1
}

// Less orders two identities lexicographically by their compressed bytes.
// TokenChannel uses this to decide which side starts Outgoing, and reset
// negotiation uses it to break inconsistency-counter ties.
func (p *PublicKey) Less(other *PublicKey) bool {
	a, b := p.Bytes(), other.Bytes()
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PublicKeyFromBytes parses a compressed secp256k1 point.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := ethcrypto.DecompressPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode public key: %w", err)
	}
	return &PublicKey{key: key}, nil
}
