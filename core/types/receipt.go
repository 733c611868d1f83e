package types

import (
	"github.com/solstice-l2/solstice/crypto"
)

// MaxLogTopics is the maximum number of topics a log entry may carry.
const MaxLogTopics = 4

// Log is an event emitted by contract execution.
type Log struct {
	Address Address
	Topics  []Digest
	Data    []byte
}

// Receipt is the observable outcome of a transaction.
type Receipt struct {
	TxHash            Digest
	BlockNumber       uint64
	Index             uint32
	From              Address
	To                Address
	Success           bool
	GasUsed           uint64
	CumulativeGasUsed uint64
	ContractAddress   *Address
	Logs              []*Log

	// VMError is the failure category for Success == false. It is a local
	// annotation and is not part of the canonical encoding.
	VMError string
}

// Encode returns the canonical receipt encoding.
func (r *Receipt) Encode() []byte {
	w := byteWriter{}
	w.raw(r.TxHash[:])
	w.u64(r.BlockNumber)
	w.u32(r.Index)
	w.raw(r.From.Payload[:])
	w.raw(r.To.Payload[:])
	if r.Success {
		w.raw([]byte{1})
	} else {
		w.raw([]byte{0})
	}
	w.u64(r.GasUsed)
	w.u64(r.CumulativeGasUsed)
	if r.ContractAddress != nil {
		w.raw([]byte{1})
		w.raw(r.ContractAddress.Payload[:])
	} else {
		w.raw([]byte{0})
	}
	w.u32(uint32(len(r.Logs)))
	for _, lg := range r.Logs {
		w.raw(lg.Address.Payload[:])
		w.raw([]byte{byte(len(lg.Topics))})
		for _, topic := range lg.Topics {
			w.raw(topic[:])
		}
		w.lenBytes(lg.Data)
	}
	return w.buf
}

// DecodeReceipt parses a canonical receipt encoding.
func DecodeReceipt(data []byte) (*Receipt, error) {
	r := byteReader{data: data}
	rec := &Receipt{}
	rec.TxHash = r.digest()
	rec.BlockNumber = r.u64()
	rec.Index = r.u32()
	rec.From = r.address()
	rec.To = r.address()
	success := r.raw(1)
	rec.GasUsed = r.u64()
	rec.CumulativeGasUsed = r.u64()
	hasContract := r.raw(1)
	if r.err == nil && hasContract[0] == 1 {
		addr := r.address()
		addr.Kind = KindScript
		rec.ContractAddress = &addr
	}
	nLogs := r.u32()
	for i := uint32(0); i < nLogs && r.err == nil; i++ {
		lg := &Log{}
		lg.Address = r.address()
		nTopics := r.raw(1)
		if r.err != nil {
			break
		}
		for j := byte(0); j < nTopics[0]; j++ {
			lg.Topics = append(lg.Topics, r.digest())
		}
		lg.Data = r.lenBytes()
		rec.Logs = append(rec.Logs, lg)
	}
	if r.err != nil {
		return nil, r.err
	}
	if success[0] == 1 {
		rec.Success = true
	}
	return rec, nil
}

// Hash returns the digest of the canonical encoding.
func (r *Receipt) Hash() Digest {
	return crypto.Hash(r.Encode())
}

// ComputeReceiptsRoot is the Merkle root over the ordered receipt hashes.
func ComputeReceiptsRoot(receipts []*Receipt) Digest {
	leaves := make([]Digest, len(receipts))
	for i, rec := range receipts {
		leaves[i] = rec.Hash()
	}
	return crypto.MerkleRoot(leaves)
}
