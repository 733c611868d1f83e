// Package settlement aggregates finalized L2 blocks into batches, anchors
// them to L1, and tracks each batch through its challenge window to
// finality or reversion.
package settlement

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/solstice-l2/solstice/core/types"
)

// Status is a settlement record's lifecycle state.
type Status int

const (
	// StatusPending batches await L1 submission.
	StatusPending Status = iota

	// StatusSubmitted batches are on L1 inside the challenge window.
	StatusSubmitted

	// StatusFinalized batches cleared the challenge window. Final records
	// never change.
	StatusFinalized

	// StatusChallenged batches are frozen under an open dispute.
	StatusChallenged

	// StatusReverted batches were proven invalid; later L2 history is
	// truncated.
	StatusReverted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusFinalized:
		return "finalized"
	case StatusChallenged:
		return "challenged"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Record is one settlement batch: a contiguous block range with pre/post
// state-root commitments and the compressed block payload submitted to L1.
type Record struct {
	BatchID    uint64
	StartBlock uint64
	EndBlock   uint64

	PreStateRoot  types.Digest
	PostStateRoot types.Digest
	TxRoot        types.Digest

	CompressedBlocks []byte
	Status           Status

	// SubmittedAt is when the record reached L1; the challenge window is
	// measured from here.
	SubmittedAt time.Time

	// L1Handle is the confirmation handle returned by the submitter.
	L1Handle string
}

// compressBlocks produces the zlib-compressed, length-prefixed
// concatenation of the block encodings.
func compressBlocks(blocks []*types.Block) ([]byte, error) {
	var raw bytes.Buffer
	for _, block := range blocks {
		enc := block.Encode()
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(enc)))
		raw.Write(n[:])
		raw.Write(enc)
	}
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecompressBlocks reverses compressBlocks, decoding every block in the
// batch payload.
func DecompressBlocks(payload []byte) ([]*types.Block, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("settlement: open batch payload: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("settlement: inflate batch payload: %w", err)
	}

	var blocks []*types.Block
	for off := 0; off < len(raw); {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("settlement: truncated batch payload")
		}
		n := int(binary.BigEndian.Uint32(raw[off : off+4]))
		off += 4
		if off+n > len(raw) {
			return nil, fmt.Errorf("settlement: truncated block in batch payload")
		}
		block, err := types.DecodeBlock(raw[off : off+n])
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
		off += n
	}
	return blocks, nil
}
