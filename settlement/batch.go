package settlement

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// ErrEmptyBatch is returned when BuildBatch is called with no blocks.
var ErrEmptyBatch = errors.New("settlement: no blocks to batch")

// BuilderConfig tunes batch readiness.
type BuilderConfig struct {
	// MaxBatchSize seals a batch once this many transactions accumulate.
	MaxBatchSize int

	// MinBatchSize is the floor for age-triggered batches.
	MinBatchSize int

	// MaxBatchAge seals a batch of at least MinBatchSize after this long.
	MaxBatchAge time.Duration
}

// DefaultBuilderConfig returns the production batching parameters.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MaxBatchSize: 50_000,
		MinBatchSize: 100,
		MaxBatchAge:  time.Hour,
	}
}

// BatchBuilder accumulates blocks until a batch is ready, then seals them
// into a Record. The batch counter is persisted before a record is handed
// out, so ids stay monotonic across restarts.
type BatchBuilder struct {
	mu sync.Mutex

	cfg   BuilderConfig
	db    rawdb.Database
	clock clockwork.Clock

	blocks    []*types.Block
	txCount   int
	startedAt time.Time
	nextID    uint64
}

// NewBatchBuilder creates a builder, restoring the persisted batch counter.
func NewBatchBuilder(cfg BuilderConfig, db rawdb.Database, clock clockwork.Clock) (*BatchBuilder, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	nextID, err := rawdb.ReadNextBatchID(db)
	if err != nil {
		return nil, err
	}
	return &BatchBuilder{cfg: cfg, db: db, clock: clock, nextID: nextID}, nil
}

// AddBlock appends a block to the pending batch.
func (b *BatchBuilder) AddBlock(block *types.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		b.startedAt = b.clock.Now()
	}
	b.blocks = append(b.blocks, block)
	b.txCount += len(block.Transactions)
}

// IsReady reports whether the pending batch should be sealed: either the
// size cap is reached, or the batch is old enough and above the floor.
func (b *BatchBuilder) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return false
	}
	if b.txCount >= b.cfg.MaxBatchSize {
		return true
	}
	age := b.clock.Since(b.startedAt)
	return age >= b.cfg.MaxBatchAge && b.txCount >= b.cfg.MinBatchSize
}

// PendingBlocks returns the number of blocks awaiting batching.
func (b *BatchBuilder) PendingBlocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks)
}

// PendingTransactions returns the number of transactions awaiting batching.
func (b *BatchBuilder) PendingTransactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txCount
}

// CurrentBatchID returns the id the next sealed batch will carry.
func (b *BatchBuilder) CurrentBatchID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// BuildBatch seals the pending blocks into a Record chained onto
// preStateRoot. The batch counter is persisted before the record is
// returned; the pending list is cleared.
func (b *BatchBuilder) BuildBatch(preStateRoot types.Digest) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		return nil, ErrEmptyBatch
	}

	leaves := make([]crypto.Digest, len(b.blocks))
	for i, block := range b.blocks {
		leaves[i] = block.Hash()
	}
	compressed, err := compressBlocks(b.blocks)
	if err != nil {
		return nil, err
	}

	first := b.blocks[0]
	last := b.blocks[len(b.blocks)-1]
	rec := &Record{
		BatchID:          b.nextID,
		StartBlock:       first.Number(),
		EndBlock:         last.Number(),
		PreStateRoot:     preStateRoot,
		PostStateRoot:    last.Header.StateRoot,
		TxRoot:           crypto.MerkleRoot(leaves),
		CompressedBlocks: compressed,
		Status:           StatusPending,
	}

	if err := rawdb.WriteNextBatchID(b.db, b.nextID+1); err != nil {
		return nil, err
	}
	b.nextID++
	b.blocks = nil
	b.txCount = 0
	return rec, nil
}
