// Package crypto provides the hashing, signature, and Merkle primitives the
// node is built on: Blake2b-256 digests, Ed25519 signatures, and binary
// Merkle trees with inclusion proofs.
package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// DigestLength is the byte length of a Digest.
const DigestLength = 32

// Digest is the 32-byte Blake2b-256 output. The all-zero digest is reserved
// for "absent".
type Digest [DigestLength]byte

// Hash computes the Blake2b-256 digest of data.
func Hash(data []byte) Digest {
	return blake2b.Sum256(data)
}

// HashConcat computes the digest of the concatenation of the given slices
// without materializing the joined buffer.
func HashConcat(parts ...[]byte) Digest {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Bytes returns the digest as a byte slice.
func (d Digest) Bytes() []byte { return d[:] }

// IsZero reports whether the digest is the reserved all-zero value.
func (d Digest) IsZero() bool { return d == Digest{} }
