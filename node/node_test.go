package node

import (
	"bytes"
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-l2/solstice/config"
	"github.com/solstice-l2/solstice/consensus"
	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
	"github.com/solstice-l2/solstice/settlement"
)

type recordingSubmitter struct {
	submitted []uint64
}

func (r *recordingSubmitter) Submit(ctx context.Context, rec *settlement.Record) (string, error) {
	r.submitted = append(r.submitted, rec.BatchID)
	return "handle", nil
}

type testEnv struct {
	node      *Node
	clock     clockwork.FakeClock
	submitter *recordingSubmitter
	userAddr  types.Address
	userKey   crypto.PrivateKey
}

func newTestNode(t *testing.T) *testEnv {
	t.Helper()
	userPub, userKey, err := crypto.NewKeyFromSeed(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	userAddr := types.PubKeyToAddress(userPub)

	seqPub, seqKey, err := crypto.NewKeyFromSeed(bytes.Repeat([]byte{6}, 32))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Node.Alloc = map[string]uint64{userAddr.Hex(): 10_000_000_000_000_000_000}
	cfg.Consensus.MinStake = 1
	cfg.Settlement.MinBatchSize = 1
	cfg.Settlement.MaxBatchAgeSec = 1
	cfg.Settlement.ChallengeWindowSec = 60

	clock := clockwork.NewFakeClock()
	sub := &recordingSubmitter{}
	n, err := New(cfg, rawdb.NewMemoryDatabase(), sub, seqKey, nil, clock)
	require.NoError(t, err)

	n.Engine().Register(consensus.Sequencer{
		Address:   types.PubKeyToAddress(seqPub),
		PublicKey: seqPub,
		Stake:     100,
		Status:    consensus.StatusActive,
	})
	return &testEnv{node: n, clock: clock, submitter: sub, userAddr: userAddr, userKey: userKey}
}

func (env *testEnv) transfer(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		To:          types.HexToAddress("0x02"),
		Value:       1_000_000,
		Nonce:       nonce,
		GasLimit:    21000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.Sign(env.userKey)
	return tx
}

func TestSubmitAndMine(t *testing.T) {
	env := newTestNode(t)
	tx := env.transfer(t, 0)

	hash, err := env.node.SubmitTransaction(tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)

	// Drive one production slot directly.
	env.node.produceSlot()

	head := env.node.Chain().Head()
	require.Equal(t, uint64(1), head.Number)
	rec := env.node.GetReceipt(hash)
	require.NotNil(t, rec)
	assert.True(t, rec.Success)
	assert.Equal(t, uint64(1_000_000), env.node.Chain().BalanceAt(types.HexToAddress("0x02")))
	assert.Equal(t, 0, env.node.Pool().Size(), "mined transaction must leave the pool")
}

func TestSubmitRejectedTransaction(t *testing.T) {
	env := newTestNode(t)
	tx := env.transfer(t, 0)
	tx.Signature[3] ^= 0x01
	_, err := env.node.SubmitTransaction(tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestDepositsMintedAtProduction(t *testing.T) {
	env := newTestNode(t)
	recipient := types.HexToAddress("0x07")
	env.node.Deposits().Enqueue(settlement.Deposit{
		L1TxRef:   "l1-tx",
		Recipient: recipient,
		Amount:    777,
	})

	env.node.produceSlot()

	assert.Equal(t, uint64(777), env.node.Chain().BalanceAt(recipient))
	assert.Equal(t, 0, env.node.Deposits().Len())
}

func TestSettlementFlow(t *testing.T) {
	env := newTestNode(t)
	_, err := env.node.SubmitTransaction(env.transfer(t, 0))
	require.NoError(t, err)

	env.node.produceSlot()
	env.clock.Advance(millis(2000)) // age past MaxBatchAgeSec

	// First pass seals and submits the batch.
	env.node.settleTick(context.Background())
	require.Equal(t, []uint64{1}, env.submitter.submitted)

	rec, ok := env.node.BatchStatus(1)
	require.True(t, ok)
	assert.Equal(t, settlement.StatusSubmitted, rec.Status)
	assert.Equal(t, uint64(1), rec.StartBlock)
	assert.Equal(t, uint64(1), rec.EndBlock)
	assert.Equal(t, env.node.Chain().GetBlock(0).Header.StateRoot, rec.PreStateRoot)
	assert.Equal(t, env.node.Chain().GetBlock(1).Header.StateRoot, rec.PostStateRoot)

	// After the challenge window the batch finalizes and anchors a
	// checkpoint.
	env.clock.Advance(millis(61_000))
	env.node.settleTick(context.Background())
	assert.True(t, env.node.Tracker().IsFinalized(1))
	assert.Equal(t, uint64(1), env.node.Tracker().FinalizedBlock())
	assert.NoError(t, env.node.Engine().CheckAnchor(1, rec.PostStateRoot))
}

func TestBatchRevertRewindsChain(t *testing.T) {
	env := newTestNode(t)

	// Two blocks, one batch each.
	_, err := env.node.SubmitTransaction(env.transfer(t, 0))
	require.NoError(t, err)
	env.node.produceSlot()
	env.clock.Advance(millis(2000))
	env.node.settleTick(context.Background())

	_, err = env.node.SubmitTransaction(env.transfer(t, 1))
	require.NoError(t, err)
	env.node.produceSlot()
	env.clock.Advance(millis(2000))
	env.node.settleTick(context.Background())

	require.Equal(t, uint64(2), env.node.Chain().Head().Number)

	// Challenge and revert batch 2: the chain rewinds to block 1.
	require.NoError(t, env.node.Tracker().Challenge(2))
	require.NoError(t, env.node.Tracker().Resolve(2, false))
	assert.Equal(t, uint64(1), env.node.Chain().Head().Number)
}

func TestStartStop(t *testing.T) {
	env := newTestNode(t)
	env.node.Start(context.Background())
	require.NoError(t, env.node.Stop())
}

func TestNonProducerSkipsSlots(t *testing.T) {
	cfg := config.Default()
	n, err := New(cfg, rawdb.NewMemoryDatabase(), nil, crypto.PrivateKey{}, nil, clockwork.NewFakeClock())
	require.NoError(t, err)
	n.produceSlot()
	assert.Equal(t, uint64(0), n.Chain().Head().Number)
}
