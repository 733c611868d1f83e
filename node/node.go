// Package node owns the running components (chain, pool, consensus,
// settlement) in dependency order, drives the block-production and
// settlement loops, and exposes the submission and query surface.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solstice-l2/solstice/config"
	"github.com/solstice-l2/solstice/consensus"
	"github.com/solstice-l2/solstice/core"
	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
	"github.com/solstice-l2/solstice/settlement"
	"github.com/solstice-l2/solstice/txpool"
)

// Node wires the core together. Construction order is dependency order;
// Stop tears down in reverse.
type Node struct {
	cfg   *config.Config
	log   *zap.Logger
	clock clockwork.Clock

	db        rawdb.Database
	chain     *core.BlockChain
	pool      *txpool.Pool
	engine    *consensus.Engine
	builder   *settlement.BatchBuilder
	tracker   *settlement.Tracker
	deposits  *settlement.DepositQueue
	submitter settlement.Submitter

	key      crypto.PrivateKey
	addr     types.Address
	producer bool

	// nextPreRoot chains batches: the post-state root of the previous
	// batch, or the genesis root before the first.
	nextPreRoot types.Digest

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New assembles a node over db. A zero private key runs a non-producing
// follower.
func New(cfg *config.Config, db rawdb.Database, submitter settlement.Submitter, key crypto.PrivateKey, logger *zap.Logger, clock clockwork.Clock) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	genesis := &core.Genesis{
		Alloc:    make(map[types.Address]uint64),
		GasLimit: cfg.Node.GasLimit,
		BaseFee:  1_000_000_000,
	}
	for hexAddr, amount := range cfg.Node.Alloc {
		genesis.Alloc[types.HexToAddress(hexAddr)] = amount
	}

	chain, err := core.NewBlockChain(db, &cfg.Chain, genesis, logger.Named("chain"))
	if err != nil {
		return nil, fmt.Errorf("node: open chain: %w", err)
	}
	pool := txpool.New(cfg.Pool, chain, logger.Named("txpool"))
	engine := consensus.NewEngine(cfg.Consensus, logger.Named("consensus"))
	builder, err := settlement.NewBatchBuilder(cfg.BuilderConfig(), db, clock)
	if err != nil {
		return nil, fmt.Errorf("node: open batch builder: %w", err)
	}
	tracker := settlement.NewTracker(cfg.TrackerConfig(), clock, logger.Named("settlement"))

	n := &Node{
		cfg:         cfg,
		log:         logger,
		clock:       clock,
		db:          db,
		chain:       chain,
		pool:        pool,
		engine:      engine,
		builder:     builder,
		tracker:     tracker,
		deposits:    settlement.NewDepositQueue(),
		submitter:   submitter,
		nextPreRoot: chain.GetBlock(0).Header.StateRoot,
	}

	if key != (crypto.PrivateKey{}) {
		n.key = key
		n.addr = types.PubKeyToAddress(crypto.DerivePublicKey(key))
		n.producer = true
	}

	// A reverted batch truncates L2 history to its predecessor's end.
	tracker.OnReverted(func(batchID, endBlock uint64) {
		if err := chain.Rewind(endBlock); err != nil {
			logger.Error("rewind after batch revert failed",
				zap.Uint64("batch", batchID), zap.Error(err))
		}
	})
	// Finalized batches anchor fork choice on L1.
	tracker.OnFinalized(func(batchID uint64) {
		if rec, ok := tracker.GetBatch(batchID); ok {
			engine.SetL1Checkpoint(rec.EndBlock, rec.PostStateRoot)
		}
	})
	return n, nil
}

// Chain exposes the canonical chain.
func (n *Node) Chain() *core.BlockChain { return n.chain }

// Pool exposes the transaction pool.
func (n *Node) Pool() *txpool.Pool { return n.pool }

// Engine exposes the consensus engine.
func (n *Node) Engine() *consensus.Engine { return n.engine }

// Tracker exposes the settlement tracker.
func (n *Node) Tracker() *settlement.Tracker { return n.tracker }

// Deposits exposes the bridge deposit queue.
func (n *Node) Deposits() *settlement.DepositQueue { return n.deposits }

// Address returns the node's sequencer address, zero for followers.
func (n *Node) Address() types.Address { return n.addr }

// Start launches the block-production and settlement loops.
func (n *Node) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	n.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	n.group = group

	group.Go(func() error { return n.productionLoop(ctx) })
	group.Go(func() error { return n.settlementLoop(ctx) })
	n.log.Info("node started",
		zap.Bool("producer", n.producer),
		zap.String("address", n.addr.Hex()),
	)
}

// Stop cancels the loops, waits for them to drain, and closes the database.
// The production loop finishes or abandons its current block before commit;
// in-flight mempool additions are not acknowledged.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
		n.group.Wait()
	}
	return n.db.Close()
}

// productionLoop wakes once per slot and produces when this node leads.
func (n *Node) productionLoop(ctx context.Context) error {
	interval := millis(n.cfg.Node.BlockTimeMs)
	ticker := n.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			n.produceSlot()
		}
	}
}

// produceSlot runs one slot: leader check, transaction selection, block
// production, and downstream notification.
func (n *Node) produceSlot() {
	if !n.producer {
		return
	}
	head := n.chain.Head()
	slot := head.Number + 1

	leader, err := n.engine.LeaderForSlot(slot)
	if err != nil {
		return
	}
	if !leader.SamePayload(n.addr) {
		return
	}

	mints := make([]core.Mint, 0)
	for _, d := range n.deposits.Drain() {
		mints = append(mints, core.Mint{Addr: d.Recipient, Amount: d.Amount})
	}
	txs := n.pool.Select(head.GasLimit, core.NextBaseFee(head))

	block, receipts, err := n.chain.BuildBlockWithMints(
		n.addr, txs,
		uint64(n.clock.Now().Unix()),
		n.tracker.FinalizedBlock(),
		n.builder.CurrentBatchID(),
		mints,
	)
	if err != nil {
		n.log.Error("block production failed", zap.Uint64("slot", slot), zap.Error(err))
		return
	}

	n.engine.RecordProduced(n.addr)
	hashes := make([]types.Digest, len(receipts))
	for i, rec := range receipts {
		hashes[i] = rec.TxHash
	}
	n.pool.RemoveConfirmed(hashes)
	n.builder.AddBlock(block)

	if epochLen := n.cfg.Consensus.BlocksPerEpoch; epochLen > 0 && block.Number()%epochLen == 0 {
		n.engine.OnEpochEnd(uint64(n.clock.Now().Unix()))
	}
}

// settlementLoop periodically seals ready batches, pushes pending records
// to the submitter, and polls for challenge-window expiry.
func (n *Node) settlementLoop(ctx context.Context) error {
	ticker := n.clock.NewTicker(millis(n.cfg.Node.SettlementPollMs))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			n.settleTick(ctx)
		}
	}
}

// settleTick runs one settlement pass.
func (n *Node) settleTick(ctx context.Context) {
	if n.builder.IsReady() {
		rec, err := n.builder.BuildBatch(n.nextPreRoot)
		if err != nil {
			n.log.Error("batch build failed", zap.Error(err))
		} else {
			n.nextPreRoot = rec.PostStateRoot
			n.tracker.Track(rec)
		}
	}

	if n.submitter != nil {
		for _, id := range n.tracker.PendingBatches() {
			// A failed submission stays pending and retries next tick.
			if err := n.tracker.Submit(ctx, id, n.submitter); err != nil {
				break
			}
		}
	}
	n.tracker.Poll()
}

// SubmitTransaction admits a transaction to the pool, returning its hash.
func (n *Node) SubmitTransaction(tx *types.Transaction) (types.Digest, error) {
	result := n.pool.Add(tx, n.chain.BalanceAt(tx.From))
	if !result.Accepted() {
		return types.Digest{}, fmt.Errorf("node: transaction rejected: %s", result)
	}
	return tx.Hash(), nil
}

// GetReceipt returns the receipt for a mined transaction, or nil.
func (n *Node) GetReceipt(txHash types.Digest) *types.Receipt {
	return n.chain.GetReceipt(txHash)
}

// BatchStatus returns the settlement record for a batch id.
func (n *Node) BatchStatus(batchID uint64) (settlement.Record, bool) {
	return n.tracker.GetBatch(batchID)
}

// CurrentBatchID returns the id the next sealed batch will take.
func (n *Node) CurrentBatchID() uint64 {
	return n.builder.CurrentBatchID()
}

func millis(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
