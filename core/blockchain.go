package core

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/state"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/core/vm"
	"github.com/solstice-l2/solstice/metrics"
)

const blockCacheSize = 256

// BlockChain owns the canonical chain: the head, the state database, block
// execution, and the persisted block/receipt indexes. It is the single
// writer of the state store; readers take the shared lock and observe only
// committed state.
type BlockChain struct {
	mu sync.RWMutex

	db      rawdb.Database
	statedb *state.StateDB
	cfg     *ChainConfig
	genesis *Genesis
	proc    *BlockProcessor
	log     *zap.Logger

	head       *types.Block
	blockCache *lru.Cache[uint64, *types.Block]
}

// NewBlockChain opens the chain over db, committing genesis when the
// database is empty.
func NewBlockChain(db rawdb.Database, cfg *ChainConfig, genesis *Genesis, logger *zap.Logger) (*BlockChain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	statedb, err := state.New(db)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[uint64, *types.Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	bc := &BlockChain{
		db:         db,
		statedb:    statedb,
		cfg:        cfg,
		genesis:    genesis,
		proc:       NewBlockProcessor(cfg),
		log:        logger,
		blockCache: cache,
	}

	headNum, ok, err := rawdb.ReadHead(db)
	if err != nil {
		return nil, err
	}
	if !ok {
		block, err := genesis.Commit(statedb)
		if err != nil {
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		if err := rawdb.WriteBlock(db, block); err != nil {
			return nil, err
		}
		if err := rawdb.WriteHead(db, 0); err != nil {
			return nil, err
		}
		bc.head = block
		logger.Info("initialized genesis", zap.String("stateRoot", fmt.Sprintf("%x", block.Header.StateRoot)))
		return bc, nil
	}

	head, err := rawdb.ReadBlock(db, headNum)
	if err != nil {
		return nil, fmt.Errorf("%w: head %d unreadable: %v", ErrNoGenesis, headNum, err)
	}
	bc.head = head
	return bc, nil
}

// Config returns the chain configuration.
func (bc *BlockChain) Config() *ChainConfig { return bc.cfg }

// Head returns the canonical head header.
func (bc *BlockChain) Head() *types.Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head.Header
}

// HeadBlock returns the canonical head block.
func (bc *BlockChain) HeadBlock() *types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head
}

// GetBlock returns the block at the given number, or nil.
func (bc *BlockChain) GetBlock(number uint64) *types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.getBlock(number)
}

func (bc *BlockChain) getBlock(number uint64) *types.Block {
	if block, ok := bc.blockCache.Get(number); ok {
		return block
	}
	block, err := rawdb.ReadBlock(bc.db, number)
	if err != nil {
		return nil
	}
	bc.blockCache.Add(number, block)
	return block
}

// GetBlockByHash returns the block with the given header hash, or nil.
func (bc *BlockChain) GetBlockByHash(hash types.Digest) *types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	block, err := rawdb.ReadBlockByHash(bc.db, hash)
	if err != nil {
		return nil
	}
	return block
}

// GetReceipt returns the receipt for a transaction hash, or nil. Receipts
// become visible only after their block is stored.
func (bc *BlockChain) GetReceipt(txHash types.Digest) *types.Receipt {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	rec, err := rawdb.ReadReceipt(bc.db, txHash)
	if err != nil {
		return nil
	}
	return rec
}

// GetTransaction locates a mined transaction by hash.
func (bc *BlockChain) GetTransaction(txHash types.Digest) (*types.Transaction, uint64, uint32, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	number, index, err := rawdb.ReadTxIndex(bc.db, txHash)
	if err != nil {
		return nil, 0, 0, false
	}
	block := bc.getBlock(number)
	if block == nil || int(index) >= len(block.Transactions) {
		return nil, 0, 0, false
	}
	return block.Transactions[index], number, index, true
}

// NonceAt returns the committed nonce of addr.
func (bc *BlockChain) NonceAt(addr types.Address) uint64 {
	acct := bc.accountAt(addr)
	return acct.Nonce
}

// BalanceAt returns the committed balance of addr.
func (bc *BlockChain) BalanceAt(addr types.Address) uint64 {
	acct := bc.accountAt(addr)
	return acct.Balance
}

func (bc *BlockChain) accountAt(addr types.Address) types.Account {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	raw, err := bc.db.Get(rawdb.AccountKey(addr))
	if err != nil {
		return types.Account{}
	}
	acct, err := types.DecodeAccount(raw)
	if err != nil {
		return types.Account{}
	}
	return acct
}

// getHashFn resolves recent block numbers to header hashes for BLOCKHASH.
// Called while the chain lock is already held.
func (bc *BlockChain) getHashFn() vm.GetHashFunc {
	return func(number uint64) types.Digest {
		block := bc.getBlock(number)
		if block == nil {
			return types.Digest{}
		}
		return block.Hash()
	}
}

// InsertBlock validates block against the head, executes it, compares the
// derived roots with the header, and commits. On any failure the state is
// reverted to the pre-block snapshot and nothing persists.
func (bc *BlockChain) InsertBlock(block *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.insertBlock(block)
}

func (bc *BlockChain) insertBlock(block *types.Block) error {
	header := block.Header
	parent := bc.head.Header
	if header.Number != parent.Number+1 {
		return ErrBadNumber
	}
	if header.ParentHash != parent.Hash() {
		return ErrBadParentHash
	}

	snap := bc.statedb.Snapshot()
	result, err := bc.proc.Process(bc.statedb, block, bc.getHashFn())
	if err != nil {
		bc.statedb.RevertToSnapshot(snap)
		return err
	}
	if result.GasUsed != header.GasUsed {
		bc.statedb.RevertToSnapshot(snap)
		return ErrGasUsedMismatch
	}
	if result.StateRoot != header.StateRoot {
		bc.statedb.RevertToSnapshot(snap)
		return ErrStateRootMismatch
	}
	if result.ReceiptsRoot != header.ReceiptsRoot {
		bc.statedb.RevertToSnapshot(snap)
		return ErrReceiptsRootMismatch
	}

	committed, err := bc.statedb.Commit()
	if err != nil {
		// A storage failure during commit aborts the block.
		bc.statedb.RevertToSnapshot(snap)
		return fmt.Errorf("commit block %d: %w", header.Number, err)
	}
	if committed != header.StateRoot {
		return fmt.Errorf("%w: post-commit divergence", ErrStateRootMismatch)
	}

	if err := bc.writeBlockData(block, result.Receipts); err != nil {
		return err
	}
	bc.head = block
	bc.blockCache.Add(block.Number(), block)

	metrics.BlocksProcessed.Inc()
	metrics.TxsProcessed.Add(float64(len(block.Transactions)))
	bc.log.Info("inserted block",
		zap.Uint64("number", header.Number),
		zap.Int("txs", len(block.Transactions)),
		zap.Uint64("gasUsed", header.GasUsed),
		zap.Uint64("baseFee", header.BaseFee),
	)
	return nil
}

func (bc *BlockChain) writeBlockData(block *types.Block, receipts []*types.Receipt) error {
	if err := rawdb.WriteBlock(bc.db, block); err != nil {
		return err
	}
	for i, rec := range receipts {
		if err := rawdb.WriteReceipt(bc.db, rec); err != nil {
			return err
		}
		if err := rawdb.WriteTxIndex(bc.db, rec.TxHash, block.Number(), uint32(i)); err != nil {
			return err
		}
	}
	return rawdb.WriteHead(bc.db, block.Number())
}

// Mint credits a bridge deposit to an account as part of a produced block.
type Mint struct {
	Addr   types.Address
	Amount uint64
}

// BuildBlock executes txs on top of the head and assembles a sealed block
// with the derived roots, then inserts it. Returns the block and its
// receipts.
func (bc *BlockChain) BuildBlock(sequencer types.Address, txs []*types.Transaction, timestamp, l1Reference, batchID uint64) (*types.Block, []*types.Receipt, error) {
	return bc.BuildBlockWithMints(sequencer, txs, timestamp, l1Reference, batchID, nil)
}

// BuildBlockWithMints is BuildBlock with bridge deposits applied ahead of
// the transactions, so the minted balances are covered by the block's state
// root. The deposit feed is L1-derived and deterministic, so every honest
// node applies the same mints for the same block.
func (bc *BlockChain) BuildBlockWithMints(sequencer types.Address, txs []*types.Transaction, timestamp, l1Reference, batchID uint64, mints []Mint) (*types.Block, []*types.Receipt, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	parent := bc.head.Header
	header := &types.Header{
		Number:      parent.Number + 1,
		ParentHash:  parent.Hash(),
		Sequencer:   sequencer,
		GasLimit:    parent.GasLimit,
		BaseFee:     NextBaseFee(parent),
		Timestamp:   timestamp,
		L1Reference: l1Reference,
		BatchID:     batchID,
	}
	block := &types.Block{Header: header, Transactions: txs}
	header.TxRoot = block.ComputeTxRoot()

	snap := bc.statedb.Snapshot()
	for _, m := range mints {
		bc.statedb.AddBalance(m.Addr, m.Amount)
	}
	result, err := bc.proc.Process(bc.statedb, block, bc.getHashFn())
	if err != nil {
		bc.statedb.RevertToSnapshot(snap)
		return nil, nil, err
	}
	header.StateRoot = result.StateRoot
	header.ReceiptsRoot = result.ReceiptsRoot
	header.GasUsed = result.GasUsed

	committed, err := bc.statedb.Commit()
	if err != nil {
		bc.statedb.RevertToSnapshot(snap)
		return nil, nil, fmt.Errorf("commit block %d: %w", header.Number, err)
	}
	if committed != header.StateRoot {
		return nil, nil, fmt.Errorf("%w: post-commit divergence", ErrStateRootMismatch)
	}
	if err := bc.writeBlockData(block, result.Receipts); err != nil {
		return nil, nil, err
	}
	bc.head = block
	bc.blockCache.Add(block.Number(), block)

	metrics.BlocksProcessed.Inc()
	metrics.TxsProcessed.Add(float64(len(txs)))
	bc.log.Info("built block",
		zap.Uint64("number", header.Number),
		zap.Int("txs", len(txs)),
		zap.Uint64("gasUsed", header.GasUsed),
	)
	return block, result.Receipts, nil
}

// CallContract executes a read-only call against the committed head state.
// All state changes are discarded.
func (bc *BlockChain) CallContract(from, to types.Address, data []byte, gas uint64) ([]byte, uint64, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	snap := bc.statedb.Snapshot()
	// Reverting also unwinds any logs the call emitted.
	defer bc.statedb.RevertToSnapshot(snap)

	evm := bc.newEVM(from)
	ret, leftover, err := evm.Call(from, to, data, gas, 0)
	return ret, gas - leftover, err
}

// EstimateGas binary-searches the smallest gas limit at which the
// transaction executes without error on the committed head state.
func (bc *BlockChain) EstimateGas(from, to types.Address, data []byte, value uint64) (uint64, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	isCreate := to.IsZero()
	intrinsic := vm.IntrinsicGas(data, isCreate)

	tryGas := func(gas uint64) bool {
		snap := bc.statedb.Snapshot()
		defer bc.statedb.RevertToSnapshot(snap)
		evm := bc.newEVM(from)
		var err error
		if isCreate {
			_, _, _, err = evm.Create(from, data, gas-intrinsic, value)
		} else {
			_, _, err = evm.Call(from, to, data, gas-intrinsic, value)
		}
		return err == nil
	}

	lo, hi := intrinsic, bc.head.Header.GasLimit
	if !tryGas(hi) {
		return 0, errors.New("core: transaction cannot succeed within the block gas limit")
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if tryGas(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return hi, nil
}

func (bc *BlockChain) newEVM(origin types.Address) *vm.EVM {
	head := bc.head.Header
	return vm.NewEVM(vm.BlockContext{
		BlockNumber: head.Number + 1,
		Time:        head.Timestamp,
		GasLimit:    head.GasLimit,
		BaseFee:     head.BaseFee,
		ChainID:     bc.cfg.ChainID,
		Coinbase:    head.Sequencer,
		GetHash:     bc.getHashFn(),
	}, vm.TxContext{Origin: origin, GasPrice: head.BaseFee}, bc.statedb)
}

// Rewind truncates the chain to target, discarding later blocks and
// rebuilding the state by replaying the surviving chain from genesis. Used
// when a settlement batch is reverted on L1.
func (bc *BlockChain) Rewind(target uint64) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	head := bc.head.Number()
	if target >= head {
		return nil
	}

	// Drop truncated blocks and their indexes.
	for n := head; n > target; n-- {
		block := bc.getBlock(n)
		if block == nil {
			continue
		}
		for _, tx := range block.Transactions {
			bc.db.Delete(rawdb.TxIndexKey(tx.Hash()))
			bc.db.Delete(rawdb.ReceiptKey(tx.Hash()))
		}
		rawdb.DeleteBlock(bc.db, block)
		bc.blockCache.Remove(n)
	}

	// Wipe the state prefixes and rebuild by replay.
	for _, prefix := range [][]byte{rawdb.StatePrefix(), rawdb.StoragePrefixAll(), rawdb.CodePrefixAll()} {
		it := bc.db.NewIterator(prefix)
		for it.Next() {
			bc.db.Delete(it.Key())
		}
		it.Release()
	}

	statedb, err := state.New(bc.db)
	if err != nil {
		return err
	}
	bc.statedb = statedb
	genesisBlock, err := bc.genesis.Commit(statedb)
	if err != nil {
		return fmt.Errorf("rewind: rebuild genesis: %w", err)
	}
	bc.head = genesisBlock

	for n := uint64(1); n <= target; n++ {
		block, err := rawdb.ReadBlock(bc.db, n)
		if err != nil {
			return fmt.Errorf("rewind: missing block %d: %w", n, err)
		}
		if err := bc.insertBlock(block); err != nil {
			return fmt.Errorf("rewind: replay block %d: %w", n, err)
		}
	}
	if err := rawdb.WriteHead(bc.db, target); err != nil {
		return err
	}
	bc.log.Warn("chain rewound", zap.Uint64("target", target), zap.Uint64("previousHead", head))
	return nil
}
