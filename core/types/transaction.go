package types

import (
	"errors"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/solstice-l2/solstice/crypto"
)

// ErrBadSignatureEncoding is returned when a decoded transaction is shorter
// than the trailing public key and signature.
var ErrBadSignatureEncoding = errors.New("types: transaction missing key material")

// Transaction is a signed L2 transaction. A zero To address requests
// contract creation with Data as the init code.
type Transaction struct {
	From        Address
	To          Address
	Value       uint64
	Nonce       uint64
	Data        []byte
	GasLimit    uint64
	MaxFee      uint64
	PriorityFee uint64

	SenderPubKey crypto.PublicKey
	Signature    crypto.Signature

	hash atomic.Pointer[Digest]
}

// IsCreate reports whether the transaction creates a contract.
func (tx *Transaction) IsCreate() bool { return tx.To.IsZero() }

// SigningBytes returns the canonical encoding of every field except the
// signature. The transaction hash is the digest of these bytes, so the
// signature verifies against the hash.
func (tx *Transaction) SigningBytes() []byte {
	w := byteWriter{}
	w.lenBytes(tx.From.Payload[:])
	w.lenBytes(tx.To.Payload[:])
	w.u64(tx.Value)
	w.u64(tx.Nonce)
	w.u64(tx.GasLimit)
	w.u64(tx.MaxFee)
	w.u64(tx.PriorityFee)
	w.lenBytes(tx.Data)
	w.raw(tx.SenderPubKey[:])
	return w.buf
}

// Hash returns the digest of the transaction over all fields except the
// signature. The value is cached after the first call.
func (tx *Transaction) Hash() Digest {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	h := crypto.Hash(tx.SigningBytes())
	tx.hash.Store(&h)
	return h
}

// Sign derives From and SenderPubKey from priv and signs the transaction
// hash in place.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.SenderPubKey = crypto.DerivePublicKey(priv)
	tx.From = PubKeyToAddress(tx.SenderPubKey)
	tx.hash.Store(nil)
	h := tx.Hash()
	tx.Signature = crypto.Sign(h[:], priv)
}

// VerifySignature checks that From matches the sender public key and that
// the signature is valid over the transaction hash.
func (tx *Transaction) VerifySignature() bool {
	if !tx.From.SamePayload(PubKeyToAddress(tx.SenderPubKey)) {
		return false
	}
	h := tx.Hash()
	return crypto.Verify(h[:], tx.Signature, tx.SenderPubKey)
}

// EffectiveGasPrice returns min(maxFee, baseFee + priorityFee) for the
// given base fee, saturating the sum.
func (tx *Transaction) EffectiveGasPrice(baseFee uint64) uint64 {
	sum := baseFee + tx.PriorityFee
	if sum < baseFee { // overflow
		sum = math.MaxUint64
	}
	if sum > tx.MaxFee {
		return tx.MaxFee
	}
	return sum
}

// Cost returns the maximum the sender can be charged: value plus the fee
// cap over the whole gas limit. The second return is false on overflow.
func (tx *Transaction) Cost() (uint64, bool) {
	hi, lo := bits.Mul64(tx.GasLimit, tx.MaxFee)
	if hi != 0 {
		return 0, false
	}
	total := lo + tx.Value
	if total < lo {
		return 0, false
	}
	return total, true
}

// Encode returns the wire encoding: the signing bytes followed by the
// 64-byte signature.
func (tx *Transaction) Encode() []byte {
	return append(tx.SigningBytes(), tx.Signature[:]...)
}

// DecodeTransaction parses a wire-encoded transaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	r := byteReader{data: data}
	tx := &Transaction{}
	from := r.lenBytes()
	to := r.lenBytes()
	tx.Value = r.u64()
	tx.Nonce = r.u64()
	tx.GasLimit = r.u64()
	tx.MaxFee = r.u64()
	tx.PriorityFee = r.u64()
	tx.Data = r.lenBytes()
	pub := r.raw(crypto.PublicKeyLength)
	sig := r.raw(crypto.SignatureLength)
	if r.err != nil {
		return nil, r.err
	}
	if len(from) != AddressLength || len(to) != AddressLength {
		return nil, ErrTruncated
	}
	copy(tx.From.Payload[:], from)
	copy(tx.To.Payload[:], to)
	copy(tx.SenderPubKey[:], pub)
	copy(tx.Signature[:], sig)
	if len(pub) != crypto.PublicKeyLength || len(sig) != crypto.SignatureLength {
		return nil, ErrBadSignatureEncoding
	}
	return tx, nil
}

// ComputeTxRoot is the Merkle root over the ordered transaction hashes.
func ComputeTxRoot(txs []*Transaction) Digest {
	leaves := make([]Digest, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return crypto.MerkleRoot(leaves)
}
