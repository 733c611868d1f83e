package consensus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinStake = 1
	cfg.BlocksPerEpoch = 100
	return cfg
}

func keyedSequencer(t *testing.T, seed byte, stake uint64) (Sequencer, crypto.PrivateKey) {
	t.Helper()
	pub, priv, err := crypto.NewKeyFromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return Sequencer{
		Address:   types.PubKeyToAddress(pub),
		PublicKey: pub,
		Stake:     stake,
		Status:    StatusActive,
	}, priv
}

// Stakes 3 and 1 split 100 slots exactly 75/25, deterministically.
func TestLeaderScheduleProportional(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	seq1, _ := keyedSequencer(t, 1, 3)
	seq2, _ := keyedSequencer(t, 2, 1)
	engine.Register(seq1)
	engine.Register(seq2)

	counts := make(map[string]int)
	for slot := uint64(0); slot < 100; slot++ {
		leader, err := engine.LeaderForSlot(slot)
		require.NoError(t, err)
		counts[leader.Hex()]++
	}
	assert.Equal(t, 75, counts[seq1.Address.Hex()])
	assert.Equal(t, 25, counts[seq2.Address.Hex()])

	// Determinism: the same slot always maps to the same leader.
	first, _ := engine.LeaderForSlot(42)
	second, _ := engine.LeaderForSlot(42)
	assert.True(t, first.Equal(second))
}

// Leader coverage: over N·K slots every sequencer's share is within one
// slot-per-cycle of stake proportionality.
func TestLeaderCoverage(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	stakes := []uint64{5, 3, 2}
	var total uint64
	addrs := make([]types.Address, len(stakes))
	for i, stake := range stakes {
		seq, _ := keyedSequencer(t, byte(i+1), stake)
		engine.Register(seq)
		addrs[i] = seq.Address
		total += stake
	}

	const cycles = 40
	window := total * cycles
	counts := make(map[string]uint64)
	for slot := uint64(0); slot < window; slot++ {
		leader, err := engine.LeaderForSlot(slot)
		require.NoError(t, err)
		counts[leader.Hex()]++
	}
	for i, stake := range stakes {
		want := cycles * stake
		got := counts[addrs[i].Hex()]
		assert.InDelta(t, float64(want), float64(got), float64(cycles),
			"sequencer %d share out of proportion", i)
	}
}

func TestActiveSetSelection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSequencers = 2
	cfg.MinStake = 100
	engine := NewEngine(cfg, nil)

	big, _ := keyedSequencer(t, 1, 1000)
	mid, _ := keyedSequencer(t, 2, 500)
	small, _ := keyedSequencer(t, 3, 200)
	dust, _ := keyedSequencer(t, 4, 50) // below min stake
	engine.Register(big)
	engine.Register(mid)
	engine.Register(small)
	engine.Register(dust)

	active := engine.ActiveSequencers()
	require.Len(t, active, 2)
	assert.True(t, active[0].Address.Equal(big.Address))
	assert.True(t, active[1].Address.Equal(mid.Address))
}

func TestNoActiveSet(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	_, err := engine.LeaderForSlot(0)
	assert.ErrorIs(t, err, ErrNoActiveSet)
}

func TestValidateProposal(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	seq, priv := keyedSequencer(t, 1, 10)
	engine.Register(seq)

	parent := &types.Header{Number: 0, Timestamp: 1000}
	header := &types.Header{
		Number:     1,
		ParentHash: parent.Hash(),
		Sequencer:  seq.Address,
		Timestamp:  1001,
	}
	proposal := &Proposal{
		Block:     &types.Block{Header: header},
		Signature: SignHeader(header, priv),
	}
	require.NoError(t, engine.ValidateProposal(proposal, parent))

	// Wrong signature.
	bad := *proposal
	bad.Signature[0] ^= 0xff
	assert.ErrorIs(t, engine.ValidateProposal(&bad, parent), ErrBadBlockSig)

	// Broken parent linkage.
	orphan := &types.Header{Number: 5, ParentHash: parent.Hash(), Sequencer: seq.Address}
	assert.ErrorIs(t, engine.ValidateProposal(&Proposal{Block: &types.Block{Header: orphan}}, parent), ErrBadParentLink)
}

func TestValidateProposalFailover(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	leader, _ := keyedSequencer(t, 1, 100)
	backup, backupPriv := keyedSequencer(t, 2, 1)
	engine.Register(leader)
	engine.Register(backup)

	// With stakes 100:1, the leader for slot 1 is the big staker.
	scheduled, err := engine.LeaderForSlot(1)
	require.NoError(t, err)
	require.True(t, scheduled.Equal(leader.Address))

	parent := &types.Header{Number: 0, Timestamp: 1000}
	header := &types.Header{
		Number:     1,
		ParentHash: parent.Hash(),
		Sequencer:  backup.Address,
		Timestamp:  1001, // only one second elapsed: failover not yet allowed
	}
	p := &Proposal{Block: &types.Block{Header: header}, Signature: SignHeader(header, backupPriv)}
	assert.ErrorIs(t, engine.ValidateProposal(p, parent), ErrWrongLeader)

	// After two block times the first fallback may produce.
	late := &types.Header{
		Number:     1,
		ParentHash: parent.Hash(),
		Sequencer:  backup.Address,
		Timestamp:  1003,
	}
	p = &Proposal{Block: &types.Block{Header: late}, Signature: SignHeader(late, backupPriv)}
	assert.NoError(t, engine.ValidateProposal(p, parent))
}

func TestSlashingLifecycle(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	seq, _ := keyedSequencer(t, 1, 1000)
	other, _ := keyedSequencer(t, 2, 500)
	engine.Register(seq)
	engine.Register(other)

	require.NoError(t, engine.ReportMisbehavior(SlashingEvidence{
		Kind:      EvidenceDoubleSign,
		Sequencer: seq.Address,
	}))

	// Immediately out of the active set.
	active := engine.ActiveSequencers()
	require.Len(t, active, 1)
	assert.True(t, active[0].Address.Equal(other.Address))

	// Double report is rejected.
	assert.ErrorIs(t, engine.ReportMisbehavior(SlashingEvidence{
		Kind:      EvidenceDoubleSign,
		Sequencer: seq.Address,
	}), ErrAlreadySlashed)

	// Stake cut lands at epoch end: 5% of 1000.
	engine.OnEpochEnd(0)
	assert.Empty(t, engine.PendingSlashings())
	engine.mu.RLock()
	slashed := engine.sequencers[seq.Address.Payload]
	engine.mu.RUnlock()
	assert.Equal(t, uint64(950), slashed.Stake)
	assert.Equal(t, StatusSlashed, slashed.Status)
}

func TestUnbondingExit(t *testing.T) {
	cfg := testConfig()
	cfg.UnbondingPeriodSec = 100
	engine := NewEngine(cfg, nil)
	seq, _ := keyedSequencer(t, 1, 1000)
	engine.Register(seq)

	require.NoError(t, engine.BeginExit(seq.Address, 1000))
	assert.Empty(t, engine.ActiveSequencers(), "exiting sequencer must leave the rotation")

	// Before the unbonding period the record survives epoch end.
	engine.OnEpochEnd(1050)
	engine.mu.RLock()
	_, present := engine.sequencers[seq.Address.Payload]
	engine.mu.RUnlock()
	assert.True(t, present)

	// After the period it is removed.
	engine.OnEpochEnd(1100)
	engine.mu.RLock()
	_, present = engine.sequencers[seq.Address.Payload]
	engine.mu.RUnlock()
	assert.False(t, present)
}

func TestUnavailabilityAutoSlash(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMissedSlots = 3
	engine := NewEngine(cfg, nil)
	seq, _ := keyedSequencer(t, 1, 1000)
	engine.Register(seq)

	engine.RecordMissedSlot(seq.Address)
	engine.RecordMissedSlot(seq.Address)
	assert.Len(t, engine.ActiveSequencers(), 1)
	engine.RecordMissedSlot(seq.Address)
	assert.Empty(t, engine.ActiveSequencers())
	require.Len(t, engine.PendingSlashings(), 1)
	assert.Equal(t, EvidenceUnavailability, engine.PendingSlashings()[0].Kind)
}

func TestL1Checkpoints(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	root := crypto.Hash([]byte("root-10"))
	engine.SetL1Checkpoint(10, root)

	assert.NoError(t, engine.CheckAnchor(10, root))
	assert.NoError(t, engine.CheckAnchor(11, crypto.Hash([]byte("anything"))))
	assert.ErrorIs(t, engine.CheckAnchor(10, crypto.Hash([]byte("fork"))), ErrCheckpointFork)
}

func TestCheckpointRingBounded(t *testing.T) {
	cfg := testConfig()
	cfg.CheckpointRing = 4
	engine := NewEngine(cfg, nil)
	for n := uint64(0); n < 10; n++ {
		engine.SetL1Checkpoint(n, crypto.Hash([]byte{byte(n)}))
	}
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	assert.Len(t, engine.checkpoints, 4)
	assert.Equal(t, uint64(6), engine.checkpoints[0].blockNumber)
}

func TestNextSlotFor(t *testing.T) {
	engine := NewEngine(testConfig(), nil)
	seq1, _ := keyedSequencer(t, 1, 3)
	seq2, _ := keyedSequencer(t, 2, 1)
	engine.Register(seq1)
	engine.Register(seq2)

	// seq2 owns the last slot of each 4-slot cycle.
	slot, ok := engine.NextSlotFor(seq2.Address, 0)
	require.True(t, ok)
	leader, _ := engine.LeaderForSlot(slot)
	assert.True(t, leader.Equal(seq2.Address))
}
