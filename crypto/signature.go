package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

const (
	// PublicKeyLength is the byte length of an Ed25519 public key.
	PublicKeyLength = 32

	// PrivateKeyLength is the byte length of an Ed25519 private key
	// (seed plus public half).
	PrivateKeyLength = 64

	// SignatureLength is the byte length of an Ed25519 signature.
	SignatureLength = 64

	// AddressPayloadLength is the byte length of an address payload:
	// the public-key digest truncated to 28 bytes.
	AddressPayloadLength = 28
)

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeyLength]byte

// PrivateKey is a 64-byte Ed25519 private key.
type PrivateKey [PrivateKeyLength]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureLength]byte

// ErrShortSeed is returned by NewKeyFromSeed for seeds that are not 32 bytes.
var ErrShortSeed = errors.New("crypto: seed must be 32 bytes")

// GenerateKey creates a new random Ed25519 keypair.
func GenerateKey() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, PrivateKey{}, err
	}
	var p PublicKey
	var s PrivateKey
	copy(p[:], pub)
	copy(s[:], priv)
	return p, s, nil
}

// NewKeyFromSeed derives a deterministic keypair from a 32-byte seed.
func NewKeyFromSeed(seed []byte) (PublicKey, PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PublicKey{}, PrivateKey{}, ErrShortSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var p PublicKey
	var s PrivateKey
	copy(s[:], priv)
	copy(p[:], priv[ed25519.SeedSize:])
	return p, s, nil
}

// Sign signs msg with the private key, producing a 64-byte signature.
func Sign(msg []byte, priv PrivateKey) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv[:], msg))
	return sig
}

// Verify reports whether sig is a valid signature of msg under pub.
func Verify(msg []byte, sig Signature, pub PublicKey) bool {
	return ed25519.Verify(pub[:], msg, sig[:])
}

// DerivePublicKey extracts the public half of a private key.
func DerivePublicKey(priv PrivateKey) PublicKey {
	var p PublicKey
	copy(p[:], priv[ed25519.SeedSize:])
	return p
}

// AddressOf derives the 28-byte address payload of a public key: the
// Blake2b-256 digest of the key truncated to 28 bytes.
func AddressOf(pub PublicKey) [AddressPayloadLength]byte {
	d := Hash(pub[:])
	var out [AddressPayloadLength]byte
	copy(out[:], d[:AddressPayloadLength])
	return out
}
