package types

import (
	"errors"
	"sync/atomic"

	"github.com/solstice-l2/solstice/crypto"
)

// HeaderEncodedSize is the fixed byte length of an encoded header:
// u64 number, four digests, the sequencer payload, and six u64 fields.
const HeaderEncodedSize = 8 + 4*DigestLength + AddressLength + 6*8

// ErrBadBlockEncoding is returned for malformed block payloads.
var ErrBadBlockEncoding = errors.New("types: bad block encoding")

// Header is the block header.
type Header struct {
	Number       uint64
	ParentHash   Digest
	StateRoot    Digest
	TxRoot       Digest
	ReceiptsRoot Digest
	Sequencer    Address
	GasLimit     uint64
	GasUsed      uint64
	BaseFee      uint64
	Timestamp    uint64
	L1Reference  uint64
	BatchID      uint64

	hash atomic.Pointer[Digest]
}

// Encode returns the fixed 212-byte header encoding.
func (h *Header) Encode() []byte {
	w := byteWriter{buf: make([]byte, 0, HeaderEncodedSize)}
	w.u64(h.Number)
	w.raw(h.ParentHash[:])
	w.raw(h.StateRoot[:])
	w.raw(h.TxRoot[:])
	w.raw(h.ReceiptsRoot[:])
	w.raw(h.Sequencer.Payload[:])
	w.u64(h.GasLimit)
	w.u64(h.GasUsed)
	w.u64(h.BaseFee)
	w.u64(h.Timestamp)
	w.u64(h.L1Reference)
	w.u64(h.BatchID)
	return w.buf
}

// DecodeHeader parses the fixed 212-byte header encoding.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderEncodedSize {
		return nil, ErrTruncated
	}
	r := byteReader{data: data}
	h := &Header{}
	h.Number = r.u64()
	h.ParentHash = r.digest()
	h.StateRoot = r.digest()
	h.TxRoot = r.digest()
	h.ReceiptsRoot = r.digest()
	h.Sequencer = r.address()
	h.GasLimit = r.u64()
	h.GasUsed = r.u64()
	h.BaseFee = r.u64()
	h.Timestamp = r.u64()
	h.L1Reference = r.u64()
	h.BatchID = r.u64()
	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

// Hash returns the digest of the encoded header, cached after first use.
func (h *Header) Hash() Digest {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	d := crypto.Hash(h.Encode())
	h.hash.Store(&d)
	return d
}

// Copy returns a deep copy with the hash cache cleared.
func (h *Header) Copy() *Header {
	cp := &Header{
		Number:       h.Number,
		ParentHash:   h.ParentHash,
		StateRoot:    h.StateRoot,
		TxRoot:       h.TxRoot,
		ReceiptsRoot: h.ReceiptsRoot,
		Sequencer:    h.Sequencer,
		GasLimit:     h.GasLimit,
		GasUsed:      h.GasUsed,
		BaseFee:      h.BaseFee,
		Timestamp:    h.Timestamp,
		L1Reference:  h.L1Reference,
		BatchID:      h.BatchID,
	}
	return cp
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       *Header
	Transactions []*Transaction
}

// Hash is the header hash.
func (b *Block) Hash() Digest { return b.Header.Hash() }

// Number is the block height.
func (b *Block) Number() uint64 { return b.Header.Number }

// ComputeTxRoot recomputes the Merkle root over the block's transactions.
func (b *Block) ComputeTxRoot() Digest {
	return ComputeTxRoot(b.Transactions)
}

// Encode returns the wire encoding: the fixed header, a u32 transaction
// count, then each transaction with a u32 length prefix.
func (b *Block) Encode() []byte {
	w := byteWriter{}
	w.raw(b.Header.Encode())
	w.u32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		enc := tx.Encode()
		w.u32(uint32(len(enc)))
		w.raw(enc)
	}
	return w.buf
}

// DecodeBlock parses a wire-encoded block.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < HeaderEncodedSize+4 {
		return nil, ErrBadBlockEncoding
	}
	header, err := DecodeHeader(data[:HeaderEncodedSize])
	if err != nil {
		return nil, err
	}
	r := byteReader{data: data, off: HeaderEncodedSize}
	count := r.u32()
	block := &Block{Header: header}
	for i := uint32(0); i < count; i++ {
		n := r.u32()
		raw := r.raw(int(n))
		if r.err != nil {
			return nil, r.err
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, tx)
	}
	if r.err != nil {
		return nil, r.err
	}
	return block, nil
}
