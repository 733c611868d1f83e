package core

import (
	"fmt"

	"github.com/solstice-l2/solstice/core/state"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/core/vm"
)

// BlockResult is the outcome of executing every transaction in a block.
// Nothing is persisted: the caller compares the result against the header
// and either commits or reverts.
type BlockResult struct {
	StateRoot    types.Digest
	ReceiptsRoot types.Digest
	Receipts     []*types.Receipt
	GasUsed      uint64
}

// BlockProcessor applies ordered transactions to derive a new state root.
type BlockProcessor struct {
	cfg    *ChainConfig
	txProc *StateProcessor
}

// NewBlockProcessor creates a block processor.
func NewBlockProcessor(cfg *ChainConfig) *BlockProcessor {
	return &BlockProcessor{cfg: cfg, txProc: NewStateProcessor(cfg)}
}

// Process executes the block's transactions in order on statedb and returns
// the derived roots and receipts. The state delta is left uncommitted; on
// error the caller must revert to its pre-block snapshot. A transaction
// that reverts does not invalidate the block; a transaction that fails
// validation does.
func (bp *BlockProcessor) Process(statedb *state.StateDB, block *types.Block, getHash vm.GetHashFunc) (*BlockResult, error) {
	header := block.Header
	if header.GasUsed > header.GasLimit {
		return nil, ErrGasCapExceeded
	}
	if block.ComputeTxRoot() != header.TxRoot {
		return nil, ErrTxRootMismatch
	}

	ctx := ExecutionContext{
		BlockNumber: header.Number,
		Timestamp:   header.Timestamp,
		GasLimit:    header.GasLimit,
		BaseFee:     header.BaseFee,
		ChainID:     bp.cfg.ChainID,
		Coinbase:    header.Sequencer,
		GetHash:     getHash,
	}

	var (
		receipts   []*types.Receipt
		cumulative uint64
	)
	for i, tx := range block.Transactions {
		result, err := bp.txProc.Process(statedb, tx, ctx)
		if err != nil {
			return nil, fmt.Errorf("tx %d (%x): %w", i, tx.Hash(), err)
		}
		cumulative += result.GasUsed
		if cumulative > header.GasLimit {
			return nil, ErrGasCapExceeded
		}
		receipt := result.Receipt
		receipt.BlockNumber = header.Number
		receipt.Index = uint32(i)
		receipt.CumulativeGasUsed = cumulative
		receipts = append(receipts, receipt)
	}

	stateRoot, err := statedb.IntermediateRoot()
	if err != nil {
		return nil, err
	}
	return &BlockResult{
		StateRoot:    stateRoot,
		ReceiptsRoot: types.ComputeReceiptsRoot(receipts),
		Receipts:     receipts,
		GasUsed:      cumulative,
	}, nil
}
