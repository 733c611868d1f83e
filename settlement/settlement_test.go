package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

func testBlock(number uint64, stateRoot types.Digest, txs int) *types.Block {
	header := &types.Header{
		Number:    number,
		StateRoot: stateRoot,
		GasLimit:  30_000_000,
		BaseFee:   1_000_000_000,
	}
	block := &types.Block{Header: header}
	for i := 0; i < txs; i++ {
		block.Transactions = append(block.Transactions, &types.Transaction{
			To:       types.HexToAddress("0x02"),
			Nonce:    uint64(i),
			GasLimit: 21000,
			MaxFee:   2_000_000_000,
		})
	}
	header.TxRoot = block.ComputeTxRoot()
	return block
}

func newBuilder(t *testing.T, cfg BuilderConfig, clock clockwork.Clock) (*BatchBuilder, rawdb.Database) {
	t.Helper()
	db := rawdb.NewMemoryDatabase()
	b, err := NewBatchBuilder(cfg, db, clock)
	require.NoError(t, err)
	return b, db
}

func TestBatchReadyBySize(t *testing.T) {
	cfg := BuilderConfig{MaxBatchSize: 3, MinBatchSize: 1, MaxBatchAge: time.Hour}
	b, _ := newBuilder(t, cfg, clockwork.NewFakeClock())

	b.AddBlock(testBlock(1, crypto.Hash([]byte("r1")), 2))
	assert.False(t, b.IsReady())
	b.AddBlock(testBlock(2, crypto.Hash([]byte("r2")), 1))
	assert.True(t, b.IsReady(), "size threshold reached")
}

func TestBatchReadyByAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := BuilderConfig{MaxBatchSize: 1000, MinBatchSize: 2, MaxBatchAge: time.Minute}
	b, _ := newBuilder(t, cfg, clock)

	b.AddBlock(testBlock(1, crypto.Hash([]byte("r1")), 1))
	clock.Advance(2 * time.Minute)
	assert.False(t, b.IsReady(), "aged batch below min size must wait")

	b.AddBlock(testBlock(2, crypto.Hash([]byte("r2")), 1))
	assert.True(t, b.IsReady(), "aged batch at min size is ready")
}

func TestBuildBatchFields(t *testing.T) {
	b, _ := newBuilder(t, DefaultBuilderConfig(), clockwork.NewFakeClock())
	root1 := crypto.Hash([]byte("r1"))
	root2 := crypto.Hash([]byte("r2"))
	blk1 := testBlock(1, root1, 1)
	blk2 := testBlock(2, root2, 2)
	b.AddBlock(blk1)
	b.AddBlock(blk2)

	pre := crypto.Hash([]byte("genesis"))
	rec, err := b.BuildBatch(pre)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), rec.BatchID)
	assert.Equal(t, uint64(1), rec.StartBlock)
	assert.Equal(t, uint64(2), rec.EndBlock)
	assert.Equal(t, pre, rec.PreStateRoot)
	assert.Equal(t, root2, rec.PostStateRoot)
	assert.Equal(t, crypto.MerkleRoot([]crypto.Digest{blk1.Hash(), blk2.Hash()}), rec.TxRoot)
	assert.Equal(t, StatusPending, rec.Status)

	blocks, err := DecompressBlocks(rec.CompressedBlocks)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, blk1.Hash(), blocks[0].Hash())
	assert.Equal(t, blk2.Hash(), blocks[1].Hash())

	// Builder drained.
	assert.Equal(t, 0, b.PendingBlocks())
	_, err = b.BuildBatch(pre)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

// Three batches of two blocks chain pre/post roots, contiguous block
// ranges, and strictly increasing ids.
func TestBatchLinkage(t *testing.T) {
	b, _ := newBuilder(t, DefaultBuilderConfig(), clockwork.NewFakeClock())

	genesisRoot := crypto.Hash([]byte("genesis"))
	pre := genesisRoot
	var records []*Record
	number := uint64(1)
	for batch := 0; batch < 3; batch++ {
		var last types.Digest
		for i := 0; i < 2; i++ {
			last = crypto.HashConcat([]byte("root"), []byte{byte(number)})
			b.AddBlock(testBlock(number, last, 1))
			number++
		}
		rec, err := b.BuildBatch(pre)
		require.NoError(t, err)
		records = append(records, rec)
		pre = rec.PostStateRoot
	}

	for i := 1; i < len(records); i++ {
		assert.Equal(t, records[i-1].PostStateRoot, records[i].PreStateRoot, "pre/post chain broken")
		assert.Equal(t, records[i-1].EndBlock+1, records[i].StartBlock, "block ranges not contiguous")
		assert.Equal(t, records[i-1].BatchID+1, records[i].BatchID, "batch ids not sequential")
	}
}

func TestBatchIDSurvivesRestart(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	cfg := DefaultBuilderConfig()

	b1, err := NewBatchBuilder(cfg, db, clockwork.NewFakeClock())
	require.NoError(t, err)
	b1.AddBlock(testBlock(1, crypto.Hash([]byte("r")), 1))
	rec, err := b1.BuildBatch(types.Digest{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.BatchID)

	// A rebuilt builder over the same database continues the sequence.
	b2, err := NewBatchBuilder(cfg, db, clockwork.NewFakeClock())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), b2.CurrentBatchID())
}

// --- tracker ---

type fakeSubmitter struct {
	fail  bool
	calls int
}

func (f *fakeSubmitter) Submit(ctx context.Context, rec *Record) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("l1 unavailable")
	}
	return "l1-tx-handle", nil
}

func newTrackerWithBatch(t *testing.T) (*Tracker, clockwork.FakeClock, *Record) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	tracker := NewTracker(TrackerConfig{ChallengeWindow: time.Hour}, clock, nil)
	rec := &Record{BatchID: 1, StartBlock: 1, EndBlock: 2, Status: StatusPending}
	tracker.Track(rec)
	return tracker, clock, rec
}

func TestSubmitAndFinalize(t *testing.T) {
	tracker, clock, rec := newTrackerWithBatch(t)
	sub := &fakeSubmitter{}

	require.NoError(t, tracker.Submit(context.Background(), 1, sub))
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, "l1-tx-handle", rec.L1Handle)

	var finalized []uint64
	tracker.OnFinalized(func(id uint64) { finalized = append(finalized, id) })

	// Before the window: nothing.
	clock.Advance(30 * time.Minute)
	assert.Empty(t, tracker.Poll())
	assert.False(t, tracker.IsFinalized(1))

	// After the window: finalized, callback fired, finalized block advanced.
	clock.Advance(31 * time.Minute)
	assert.Equal(t, []uint64{1}, tracker.Poll())
	assert.True(t, tracker.IsFinalized(1))
	assert.Equal(t, []uint64{1}, finalized)
	assert.Equal(t, uint64(2), tracker.FinalizedBlock())
}

func TestSubmitFailureStaysPending(t *testing.T) {
	tracker, _, rec := newTrackerWithBatch(t)
	sub := &fakeSubmitter{fail: true}

	require.Error(t, tracker.Submit(context.Background(), 1, sub))
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, []uint64{1}, tracker.PendingBatches())

	// Retry succeeds.
	sub.fail = false
	require.NoError(t, tracker.Submit(context.Background(), 1, sub))
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, 2, sub.calls)
}

func TestChallengeFreezesFinality(t *testing.T) {
	tracker, clock, rec := newTrackerWithBatch(t)
	require.NoError(t, tracker.Submit(context.Background(), 1, &fakeSubmitter{}))
	require.NoError(t, tracker.Challenge(1))
	assert.Equal(t, StatusChallenged, rec.Status)

	clock.Advance(2 * time.Hour)
	assert.Empty(t, tracker.Poll(), "challenged batch must not auto-finalize")

	// Resolution in the sequencer's favor finalizes.
	require.NoError(t, tracker.Resolve(1, true))
	assert.True(t, tracker.IsFinalized(1))
}

func TestRevertTruncatesLaterBatches(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := NewTracker(TrackerConfig{ChallengeWindow: time.Hour}, clock, nil)
	for id := uint64(1); id <= 3; id++ {
		tracker.Track(&Record{
			BatchID:    id,
			StartBlock: (id-1)*2 + 1,
			EndBlock:   id * 2,
			Status:     StatusPending,
		})
	}
	require.NoError(t, tracker.Submit(context.Background(), 2, &fakeSubmitter{}))
	require.NoError(t, tracker.Challenge(2))

	var revertedBatch, survivingBlock uint64
	tracker.OnReverted(func(id, end uint64) { revertedBatch, survivingBlock = id, end })

	require.NoError(t, tracker.Resolve(2, false))
	assert.Equal(t, uint64(2), revertedBatch)
	assert.Equal(t, uint64(2), survivingBlock, "history truncates to the block before the reverted batch")

	rec, ok := tracker.GetBatch(2)
	require.True(t, ok)
	assert.Equal(t, StatusReverted, rec.Status)
	_, ok = tracker.GetBatch(3)
	assert.False(t, ok, "later batch must be dropped")
	_, ok = tracker.GetBatch(1)
	assert.True(t, ok, "earlier batch must survive")
}

func TestTransitionGuards(t *testing.T) {
	tracker, _, _ := newTrackerWithBatch(t)
	// Challenge before submit.
	assert.ErrorIs(t, tracker.Challenge(1), ErrBadTransition)
	// Resolve before challenge.
	require.NoError(t, tracker.Submit(context.Background(), 1, &fakeSubmitter{}))
	assert.ErrorIs(t, tracker.Resolve(1, true), ErrBadTransition)
	// Unknown batch.
	assert.ErrorIs(t, tracker.Challenge(42), ErrUnknownBatch)
}

func TestFinalizedBatchNeverChanges(t *testing.T) {
	tracker, clock, rec := newTrackerWithBatch(t)
	require.NoError(t, tracker.Submit(context.Background(), 1, &fakeSubmitter{}))
	clock.Advance(2 * time.Hour)
	tracker.Poll()
	require.Equal(t, StatusFinalized, rec.Status)

	assert.ErrorIs(t, tracker.Challenge(1), ErrBadTransition)
	assert.ErrorIs(t, tracker.Resolve(1, false), ErrBadTransition)
}

func TestWithdrawalLifecycle(t *testing.T) {
	tracker, clock, _ := newTrackerWithBatch(t)
	tracker.QueueWithdrawal(Withdrawal{
		L2TxHash:    crypto.Hash([]byte("wd")),
		Sender:      types.HexToAddress("0x01"),
		L1Recipient: "l1-addr",
		Amount:      500,
		BatchID:     1,
	})
	assert.Empty(t, tracker.ClaimableWithdrawals())

	require.NoError(t, tracker.Submit(context.Background(), 1, &fakeSubmitter{}))
	clock.Advance(2 * time.Hour)
	tracker.Poll()

	claimable := tracker.ClaimableWithdrawals()
	require.Len(t, claimable, 1)
	assert.Equal(t, uint64(500), claimable[0].Amount)
	assert.Equal(t, WithdrawalClaimable, claimable[0].Status)
}

func TestDepositQueue(t *testing.T) {
	q := NewDepositQueue()
	q.Enqueue(Deposit{L1TxRef: "a", Recipient: types.HexToAddress("0x01"), Amount: 10})
	q.Enqueue(Deposit{L1TxRef: "b", Recipient: types.HexToAddress("0x02"), Amount: 20})
	assert.Equal(t, 2, q.Len())

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].L1TxRef)
	assert.Equal(t, 0, q.Len())
}

func TestCommitmentBinding(t *testing.T) {
	rec := &Record{
		BatchID:       3,
		StartBlock:    5,
		EndBlock:      6,
		PreStateRoot:  crypto.Hash([]byte("pre")),
		PostStateRoot: crypto.Hash([]byte("post")),
		TxRoot:        crypto.Hash([]byte("txs")),
	}
	trace := []types.Digest{crypto.Hash([]byte("b5")), crypto.Hash([]byte("b6"))}
	cb := BuildCommitment(rec, trace)
	assert.True(t, cb.Verify())

	cb.PostStateRoot = crypto.Hash([]byte("tampered"))
	assert.False(t, cb.Verify(), "tampered binding must fail verification")
}
