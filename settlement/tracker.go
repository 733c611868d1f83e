package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/solstice-l2/solstice/metrics"
)

// Tracker errors.
var (
	ErrUnknownBatch  = errors.New("settlement: unknown batch")
	ErrBadTransition = errors.New("settlement: invalid status transition")
)

// Submitter carries a sealed record to L1 and returns a confirmation
// handle. Submission failures leave the record pending for retry.
type Submitter interface {
	Submit(ctx context.Context, rec *Record) (string, error)
}

// TrackerConfig tunes the settlement tracker.
type TrackerConfig struct {
	// ChallengeWindow is how long a submitted batch may be disputed
	// before it finalizes.
	ChallengeWindow time.Duration
}

// DefaultTrackerConfig returns the production challenge window.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{ChallengeWindow: 7 * 24 * time.Hour}
}

// Tracker drives settlement records through their lifecycle:
//
//	pending → submitted → finalized
//	            └→ challenged → finalized | reverted
//
// A finalized record never changes; a reverted record truncates all later
// records and signals the chain to rewind.
type Tracker struct {
	mu sync.Mutex

	cfg   TrackerConfig
	clock clockwork.Clock
	log   *zap.Logger

	records map[uint64]*Record

	finalizedBlock uint64
	withdrawals    []*Withdrawal

	onFinalized []func(batchID uint64)
	onReverted  []func(batchID, endBlock uint64)
}

// NewTracker creates a settlement tracker.
func NewTracker(cfg TrackerConfig, clock clockwork.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:     cfg,
		clock:   clock,
		log:     logger,
		records: make(map[uint64]*Record),
	}
}

// Track registers a sealed record in pending state.
func (t *Tracker) Track(rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.BatchID] = rec
}

// Submit hands a pending record to the submitter. On failure the record
// stays pending and the error is returned for retry policy upstream.
func (t *Tracker) Submit(ctx context.Context, batchID uint64, submitter Submitter) error {
	t.mu.Lock()
	rec, ok := t.records[batchID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownBatch
	}
	if rec.Status != StatusPending {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> submitted", ErrBadTransition, rec.Status)
	}
	t.mu.Unlock()

	// The submitter performs I/O; do not hold the lock across it.
	handle, err := submitter.Submit(ctx, rec)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.log.Warn("batch submission failed, staying pending",
			zap.Uint64("batch", batchID), zap.Error(err))
		return err
	}
	rec.Status = StatusSubmitted
	rec.SubmittedAt = t.clock.Now()
	rec.L1Handle = handle
	t.log.Info("batch submitted", zap.Uint64("batch", batchID), zap.String("handle", handle))
	return nil
}

// Poll finalizes every submitted record whose challenge window has elapsed.
// Returns the ids finalized in this pass.
func (t *Tracker) Poll() []uint64 {
	t.mu.Lock()
	var finalized []uint64
	now := t.clock.Now()
	for id, rec := range t.records {
		if rec.Status == StatusSubmitted && now.Sub(rec.SubmittedAt) >= t.cfg.ChallengeWindow {
			finalized = append(finalized, id)
		}
	}
	sort.Slice(finalized, func(i, j int) bool { return finalized[i] < finalized[j] })
	for _, id := range finalized {
		t.finalizeLocked(t.records[id])
	}
	callbacks := t.onFinalized
	t.mu.Unlock()

	for _, id := range finalized {
		for _, cb := range callbacks {
			cb(id)
		}
	}
	return finalized
}

// finalizeLocked moves a record to finalized and releases its withdrawals.
func (t *Tracker) finalizeLocked(rec *Record) {
	rec.Status = StatusFinalized
	if rec.EndBlock > t.finalizedBlock {
		t.finalizedBlock = rec.EndBlock
	}
	for _, w := range t.withdrawals {
		if w.BatchID == rec.BatchID && w.Status == WithdrawalPending {
			w.Status = WithdrawalClaimable
		}
	}
	metrics.BatchesFinalized.Inc()
	t.log.Info("batch finalized",
		zap.Uint64("batch", rec.BatchID),
		zap.Uint64("endBlock", rec.EndBlock),
	)
}

// Challenge freezes a submitted record under dispute.
func (t *Tracker) Challenge(batchID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	if rec.Status != StatusSubmitted {
		return fmt.Errorf("%w: %s -> challenged", ErrBadTransition, rec.Status)
	}
	rec.Status = StatusChallenged
	t.log.Warn("batch challenged", zap.Uint64("batch", batchID))
	return nil
}

// Resolve settles a challenge: a valid batch finalizes; an invalid one is
// reverted, truncating every later record and notifying revert listeners
// with the last surviving block number.
func (t *Tracker) Resolve(batchID uint64, valid bool) error {
	t.mu.Lock()
	rec, ok := t.records[batchID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownBatch
	}
	if rec.Status != StatusChallenged {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> resolved", ErrBadTransition, rec.Status)
	}

	if valid {
		t.finalizeLocked(rec)
		callbacks := t.onFinalized
		t.mu.Unlock()
		for _, cb := range callbacks {
			cb(batchID)
		}
		return nil
	}

	rec.Status = StatusReverted
	survivingBlock := rec.StartBlock - 1
	for id := range t.records {
		if id > batchID {
			delete(t.records, id)
		}
	}
	for _, w := range t.withdrawals {
		if w.BatchID >= batchID && w.Status != WithdrawalClaimed {
			w.Status = WithdrawalReverted
		}
	}
	callbacks := t.onReverted
	t.mu.Unlock()

	t.log.Warn("batch reverted, truncating later history",
		zap.Uint64("batch", batchID),
		zap.Uint64("survivingBlock", survivingBlock),
	)
	for _, cb := range callbacks {
		cb(batchID, survivingBlock)
	}
	return nil
}

// GetBatch returns a copy of the record, if known.
func (t *Tracker) GetBatch(batchID uint64) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[batchID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsFinalized reports whether the batch has finalized.
func (t *Tracker) IsFinalized(batchID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[batchID]
	return ok && rec.Status == StatusFinalized
}

// FinalizedBlock returns the highest L2 block covered by a finalized batch.
func (t *Tracker) FinalizedBlock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizedBlock
}

// PendingBatches returns the ids of records not yet submitted.
func (t *Tracker) PendingBatches() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []uint64
	for id, rec := range t.records {
		if rec.Status == StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnFinalized registers a finalization callback.
func (t *Tracker) OnFinalized(cb func(batchID uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFinalized = append(t.onFinalized, cb)
}

// OnReverted registers a revert callback, invoked with the reverted batch
// and the last surviving block number.
func (t *Tracker) OnReverted(cb func(batchID, endBlock uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReverted = append(t.onReverted, cb)
}

// QueueWithdrawal registers a withdrawal awaiting its batch's finality.
func (t *Tracker) QueueWithdrawal(w Withdrawal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := w
	t.withdrawals = append(t.withdrawals, &stored)
}

// ClaimableWithdrawals returns withdrawals released by finalized batches.
func (t *Tracker) ClaimableWithdrawals() []Withdrawal {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Withdrawal
	for _, w := range t.withdrawals {
		if w.Status == WithdrawalClaimable {
			out = append(out, *w)
		}
	}
	return out
}
