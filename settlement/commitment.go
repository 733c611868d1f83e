package settlement

import (
	"encoding/binary"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// CommitmentBinding binds a batch's state transition under a single digest:
// the batch range, the pre/post state roots, the header-hash root, and the
// per-block execution trace. It is a hash commitment, not a succinct
// argument; verification recomputes the binding.
type CommitmentBinding struct {
	BatchID    uint64
	StartBlock uint64
	EndBlock   uint64

	PreStateRoot  types.Digest
	PostStateRoot types.Digest
	TxRoot        types.Digest

	// ExecutionTrace holds one digest per block in the batch, conventionally
	// the block's receipts root.
	ExecutionTrace []types.Digest

	Commitment types.Digest
}

// BuildCommitment constructs the binding for a sealed record and its
// execution trace.
func BuildCommitment(rec *Record, trace []types.Digest) *CommitmentBinding {
	cb := &CommitmentBinding{
		BatchID:        rec.BatchID,
		StartBlock:     rec.StartBlock,
		EndBlock:       rec.EndBlock,
		PreStateRoot:   rec.PreStateRoot,
		PostStateRoot:  rec.PostStateRoot,
		TxRoot:         rec.TxRoot,
		ExecutionTrace: trace,
	}
	cb.Commitment = cb.compute()
	return cb
}

func (cb *CommitmentBinding) compute() types.Digest {
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], cb.BatchID)
	binary.BigEndian.PutUint64(nums[8:16], cb.StartBlock)
	binary.BigEndian.PutUint64(nums[16:24], cb.EndBlock)

	parts := [][]byte{
		nums[:],
		cb.PreStateRoot[:],
		cb.PostStateRoot[:],
		cb.TxRoot[:],
	}
	for i := range cb.ExecutionTrace {
		parts = append(parts, cb.ExecutionTrace[i][:])
	}
	return crypto.HashConcat(parts...)
}

// Verify recomputes the binding and compares it to the stored commitment.
func (cb *CommitmentBinding) Verify() bool {
	return cb.Commitment == cb.compute()
}
