// Package types defines the core data structures of the chain: digests,
// addresses, accounts, transactions, receipts, headers, and blocks, together
// with their canonical wire encodings.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/solstice-l2/solstice/crypto"
)

const (
	// DigestLength is the byte length of a Digest.
	DigestLength = crypto.DigestLength

	// AddressLength is the byte length of an address payload.
	AddressLength = crypto.AddressPayloadLength
)

// Digest is the chain's 32-byte hash value. The all-zero digest means
// "absent".
type Digest = crypto.Digest

// AddressKind tags what an address payload represents.
type AddressKind uint8

const (
	// KindBasic is a payment address with a staking credential.
	KindBasic AddressKind = iota

	// KindPayment is a payment-only address.
	KindPayment

	// KindScript is a contract address.
	KindScript

	// KindReserved is reserved for protocol addresses such as precompiles.
	KindReserved
)

// String implements fmt.Stringer.
func (k AddressKind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindPayment:
		return "payment-only"
	case KindScript:
		return "script"
	case KindReserved:
		return "reserved"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Address identifies an account: a 28-byte payload plus a kind tag. The
// canonical binary form used on the wire, in hashes, and as a state key is
// the payload alone; the kind records how the payload was derived. The
// all-zero payload denotes the contract-creation target in transactions.
type Address struct {
	Kind    AddressKind
	Payload [AddressLength]byte
}

// BytesToAddress builds a basic-kind address from b, left-padding if shorter
// than 28 bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress builds a basic-kind address from a hex string.
func HexToAddress(s string) Address {
	return BytesToAddress(fromHex(s))
}

// PubKeyToAddress derives the basic-kind address of an Ed25519 public key.
func PubKeyToAddress(pub crypto.PublicKey) Address {
	return Address{Kind: KindBasic, Payload: crypto.AddressOf(pub)}
}

// SetBytes sets the payload from a byte slice, left-padding if necessary.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	a.Payload = [AddressLength]byte{}
	copy(a.Payload[AddressLength-len(b):], b)
}

// Bytes returns the canonical 28-byte payload.
func (a Address) Bytes() []byte { return a.Payload[:] }

// IsZero reports whether the payload is all zeros (the creation target).
func (a Address) IsZero() bool {
	return a.Payload == [AddressLength]byte{}
}

// Equal reports payload-and-kind equality.
func (a Address) Equal(b Address) bool { return a == b }

// SamePayload reports whether two addresses share the canonical payload,
// ignoring the kind tag.
func (a Address) SamePayload(b Address) bool { return a.Payload == b.Payload }

// Cmp compares the canonical payloads bytewise.
func (a Address) Cmp(b Address) int {
	return bytes.Compare(a.Payload[:], b.Payload[:])
}

// Hex returns the payload as a 0x-prefixed hex string.
func (a Address) Hex() string { return fmt.Sprintf("0x%x", a.Payload[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// BytesToDigest converts bytes to a Digest, left-padding if shorter.
func BytesToDigest(b []byte) Digest {
	var d Digest
	if len(b) > DigestLength {
		b = b[len(b)-DigestLength:]
	}
	copy(d[DigestLength-len(b):], b)
	return d
}

// HexToDigest converts a hex string to a Digest.
func HexToDigest(s string) Digest {
	return BytesToDigest(fromHex(s))
}

// fromHex decodes a hex string, stripping an optional "0x" prefix.
func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
