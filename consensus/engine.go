package consensus

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// Validation and registry errors.
var (
	ErrNoActiveSet      = errors.New("consensus: no active sequencers")
	ErrUnknownSequencer = errors.New("consensus: unknown sequencer")
	ErrWrongLeader      = errors.New("consensus: block not signed by the scheduled leader")
	ErrBadBlockSig      = errors.New("consensus: invalid block signature")
	ErrBadParentLink    = errors.New("consensus: parent linkage broken")
	ErrCheckpointFork   = errors.New("consensus: chain diverges from an L1 checkpoint")
	ErrAlreadySlashed   = errors.New("consensus: sequencer already slashed")
)

// Config tunes the consensus engine.
type Config struct {
	// BlockTimeMs is the slot duration.
	BlockTimeMs uint64

	// BlocksPerEpoch is the epoch length in blocks.
	BlocksPerEpoch uint64

	// MaxSequencers caps the active set size.
	MaxSequencers int

	// MinStake is the stake floor for the active set.
	MinStake uint64

	// UnbondingPeriodSec is how long an exiting sequencer keeps its stake
	// locked before removal at epoch end.
	UnbondingPeriodSec uint64

	// MaxMissedSlots is the unavailability threshold before automatic
	// slashing evidence is filed.
	MaxMissedSlots uint64

	// CheckpointRing bounds the retained L1 checkpoints.
	CheckpointRing int
}

// DefaultConfig returns the production consensus parameters.
func DefaultConfig() Config {
	return Config{
		BlockTimeMs:        1000,
		BlocksPerEpoch:     86400,
		MaxSequencers:      21,
		MinStake:           100_000,
		UnbondingPeriodSec: 604_800,
		MaxMissedSlots:     1000,
		CheckpointRing:     128,
	}
}

// checkpoint is an L1-confirmed post-state root used as a fork-choice anchor.
type checkpoint struct {
	blockNumber uint64
	stateRoot   types.Digest
}

// Proposal is a block plus the producer's signature over the header hash.
type Proposal struct {
	Block     *types.Block
	Signature crypto.Signature
}

// Engine is the rotating-sequencer-set consensus engine.
type Engine struct {
	mu sync.RWMutex

	cfg Config
	log *zap.Logger

	sequencers map[[types.AddressLength]byte]*Sequencer
	activeSet  []*Sequencer // descending stake, address tie-break

	pendingSlashings []SlashingEvidence
	checkpoints      []checkpoint
}

// NewEngine creates a consensus engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckpointRing == 0 {
		cfg.CheckpointRing = 128
	}
	return &Engine{
		cfg:        cfg,
		log:        logger,
		sequencers: make(map[[types.AddressLength]byte]*Sequencer),
	}
}

// Register adds or updates a sequencer and recomputes the active set.
func (e *Engine) Register(seq Sequencer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := seq
	e.sequencers[seq.Address.Payload] = &s
	e.recomputeActiveSet()
}

// Unregister removes a sequencer outright.
func (e *Engine) Unregister(addr types.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sequencers, addr.Payload)
	e.recomputeActiveSet()
}

// UpdateStake adjusts a sequencer's stake.
func (e *Engine) UpdateStake(addr types.Address, stake uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sequencers[addr.Payload]
	if !ok {
		return ErrUnknownSequencer
	}
	s.Stake = stake
	e.recomputeActiveSet()
	return nil
}

// BeginExit moves a sequencer into unbonding; removal happens at the first
// epoch end after the unbonding period.
func (e *Engine) BeginExit(addr types.Address, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sequencers[addr.Payload]
	if !ok {
		return ErrUnknownSequencer
	}
	s.Status = StatusExiting
	s.exitStartedAt = now
	e.recomputeActiveSet()
	return nil
}

// ActiveSequencers returns a copy of the active set in schedule order.
func (e *Engine) ActiveSequencers() []Sequencer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Sequencer, len(e.activeSet))
	for i, s := range e.activeSet {
		out[i] = *s
	}
	return out
}

// recomputeActiveSet rebuilds the schedule: eligible sequencers (stake at or
// above the floor, active or standby) sorted by descending stake with the
// address breaking ties, truncated to the configured size.
func (e *Engine) recomputeActiveSet() {
	eligible := make([]*Sequencer, 0, len(e.sequencers))
	for _, s := range e.sequencers {
		if s.Stake >= e.cfg.MinStake && (s.Status == StatusActive || s.Status == StatusStandby) {
			eligible = append(eligible, s)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Stake != eligible[j].Stake {
			return eligible[i].Stake > eligible[j].Stake
		}
		return eligible[i].Address.Cmp(eligible[j].Address) < 0
	})
	if e.cfg.MaxSequencers > 0 && len(eligible) > e.cfg.MaxSequencers {
		eligible = eligible[:e.cfg.MaxSequencers]
	}
	e.activeSet = eligible
}

func (e *Engine) totalActiveStake() uint64 {
	var total uint64
	for _, s := range e.activeSet {
		total += s.Stake
	}
	if total == 0 {
		return 1
	}
	return total
}

// LeaderForSlot returns the scheduled leader for slot s: the slot is taken
// modulo the total active stake and mapped onto the cumulative stake walk,
// giving each sequencer a share of slots proportional to its stake.
func (e *Engine) LeaderForSlot(slot uint64) (types.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leaderForSlot(slot)
}

func (e *Engine) leaderForSlot(slot uint64) (types.Address, error) {
	if len(e.activeSet) == 0 {
		return types.Address{}, ErrNoActiveSet
	}
	slotStake := slot % e.totalActiveStake()
	var cumulative uint64
	for _, s := range e.activeSet {
		cumulative += s.Stake
		if slotStake < cumulative {
			return s.Address, nil
		}
	}
	return e.activeSet[0].Address, nil
}

// IsLeader reports whether addr is the scheduled leader for the slot.
func (e *Engine) IsLeader(slot uint64, addr types.Address) bool {
	leader, err := e.LeaderForSlot(slot)
	return err == nil && leader.SamePayload(addr)
}

// NextSlotFor returns the first slot after current where addr leads, with a
// bounded search horizon.
func (e *Engine) NextSlotFor(addr types.Address, current uint64) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for s := current + 1; s < current+10_000; s++ {
		leader, err := e.leaderForSlot(s)
		if err != nil {
			return 0, false
		}
		if leader.SamePayload(addr) {
			return s, true
		}
	}
	return 0, false
}

// failoverOrder lists producers permitted at a slot: the scheduled leader
// first, then the remaining active set in schedule order.
func (e *Engine) failoverOrder(slot uint64) []*Sequencer {
	leader, err := e.leaderForSlot(slot)
	if err != nil {
		return nil
	}
	order := make([]*Sequencer, 0, len(e.activeSet))
	for _, s := range e.activeSet {
		if s.Address.SamePayload(leader) {
			order = append([]*Sequencer{s}, order...)
		} else {
			order = append(order, s)
		}
	}
	return order
}

// SignHeader signs the header hash with the producer's key.
func SignHeader(header *types.Header, priv crypto.PrivateKey) crypto.Signature {
	h := header.Hash()
	return crypto.Sign(h[:], priv)
}

// ValidateProposal checks a proposed block on top of parent: parent linkage,
// producer schedule (with timestamp-based failover), and the header
// signature against the producer's registered key.
func (e *Engine) ValidateProposal(p *Proposal, parent *types.Header) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	header := p.Block.Header
	if header.Number != parent.Number+1 || header.ParentHash != parent.Hash() {
		return ErrBadParentLink
	}

	seq, ok := e.sequencers[header.Sequencer.Payload]
	if !ok {
		return ErrUnknownSequencer
	}

	order := e.failoverOrder(header.Number)
	if len(order) == 0 {
		return ErrNoActiveSet
	}
	position := -1
	for i, s := range order {
		if s.Address.SamePayload(header.Sequencer) {
			position = i
			break
		}
	}
	if position < 0 {
		return ErrWrongLeader
	}
	if position > 0 {
		// A fallback producer at position k is valid only after k extra
		// block times have elapsed since the parent.
		elapsedMs := (header.Timestamp - parent.Timestamp) * 1000
		if header.Timestamp <= parent.Timestamp ||
			elapsedMs < uint64(position+1)*e.cfg.BlockTimeMs {
			return ErrWrongLeader
		}
	}

	h := header.Hash()
	if !crypto.Verify(h[:], p.Signature, seq.PublicKey) {
		return ErrBadBlockSig
	}
	return nil
}

// RecordProduced bumps the producer's counter.
func (e *Engine) RecordProduced(addr types.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sequencers[addr.Payload]; ok {
		s.BlocksProduced++
	}
}

// RecordMissedSlot bumps the leader's missed counter, filing unavailability
// evidence when the threshold is crossed.
func (e *Engine) RecordMissedSlot(addr types.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sequencers[addr.Payload]
	if !ok {
		return
	}
	s.MissedSlots++
	if e.cfg.MaxMissedSlots > 0 && s.MissedSlots == e.cfg.MaxMissedSlots {
		e.fileEvidence(SlashingEvidence{
			Kind:      EvidenceUnavailability,
			Sequencer: addr,
		})
	}
}

// ReportMisbehavior files slashing evidence. The sequencer is moved to
// slashed and leaves the active set immediately; the stake cut is applied
// at epoch end.
func (e *Engine) ReportMisbehavior(ev SlashingEvidence) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sequencers[ev.Sequencer.Payload]
	if !ok {
		return ErrUnknownSequencer
	}
	if s.Status == StatusSlashed {
		return ErrAlreadySlashed
	}
	e.fileEvidence(ev)
	return nil
}

func (e *Engine) fileEvidence(ev SlashingEvidence) {
	s := e.sequencers[ev.Sequencer.Payload]
	s.Status = StatusSlashed
	e.pendingSlashings = append(e.pendingSlashings, ev)
	e.recomputeActiveSet()
	e.log.Warn("sequencer slashed",
		zap.String("sequencer", ev.Sequencer.Hex()),
		zap.String("kind", ev.Kind.String()),
	)
}

// PendingSlashings returns evidence not yet applied.
func (e *Engine) PendingSlashings() []SlashingEvidence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SlashingEvidence, len(e.pendingSlashings))
	copy(out, e.pendingSlashings)
	return out
}

// EpochOf returns the epoch a block number belongs to.
func (e *Engine) EpochOf(number uint64) uint64 {
	if e.cfg.BlocksPerEpoch == 0 {
		return 0
	}
	return number / e.cfg.BlocksPerEpoch
}

// OnEpochEnd applies pending slashings, removes sequencers whose unbonding
// period has elapsed, and recomputes the active set.
func (e *Engine) OnEpochEnd(now uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range e.pendingSlashings {
		s, ok := e.sequencers[ev.Sequencer.Payload]
		if !ok {
			continue
		}
		cut := s.Stake * ev.Kind.SlashPermille() / 1000
		s.Stake -= cut
	}
	e.pendingSlashings = nil

	for payload, s := range e.sequencers {
		if s.Status == StatusExiting && now >= s.exitStartedAt+e.cfg.UnbondingPeriodSec {
			delete(e.sequencers, payload)
		}
	}
	e.recomputeActiveSet()
}

// SetL1Checkpoint records an L1-confirmed post-state root for a block,
// keeping a bounded ring of the most recent anchors.
func (e *Engine) SetL1Checkpoint(blockNumber uint64, stateRoot types.Digest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpoints = append(e.checkpoints, checkpoint{blockNumber: blockNumber, stateRoot: stateRoot})
	if len(e.checkpoints) > e.cfg.CheckpointRing {
		e.checkpoints = e.checkpoints[len(e.checkpoints)-e.cfg.CheckpointRing:]
	}
}

// CheckAnchor verifies a block's state root against a recorded checkpoint.
// A mismatch at a checkpointed height rejects the chain.
func (e *Engine) CheckAnchor(blockNumber uint64, stateRoot types.Digest) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cp := range e.checkpoints {
		if cp.blockNumber == blockNumber && cp.stateRoot != stateRoot {
			return ErrCheckpointFork
		}
	}
	return nil
}
