package settlement

import (
	"sync"

	"github.com/solstice-l2/solstice/core/types"
)

// Deposit is an L1 deposit awaiting minting on L2. The watcher transport
// that discovers deposits is outside the core; confirmed deposits enter
// through the queue and are minted at block production.
type Deposit struct {
	// L1TxRef identifies the funding transaction on L1.
	L1TxRef string

	// Recipient receives the minted balance on L2.
	Recipient types.Address

	// Amount is in base units.
	Amount uint64
}

// DepositQueue holds confirmed deposits until the next produced block.
type DepositQueue struct {
	mu      sync.Mutex
	pending []Deposit
}

// NewDepositQueue creates an empty queue.
func NewDepositQueue() *DepositQueue {
	return &DepositQueue{}
}

// Enqueue adds a confirmed deposit.
func (q *DepositQueue) Enqueue(d Deposit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, d)
}

// Drain removes and returns every queued deposit.
func (q *DepositQueue) Drain() []Deposit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the queue depth.
func (q *DepositQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WithdrawalStatus is a withdrawal's lifecycle state.
type WithdrawalStatus int

const (
	// WithdrawalPending withdrawals await their batch's finality.
	WithdrawalPending WithdrawalStatus = iota

	// WithdrawalClaimable withdrawals may be claimed on L1.
	WithdrawalClaimable

	// WithdrawalClaimed withdrawals are complete.
	WithdrawalClaimed

	// WithdrawalReverted withdrawals reference a reverted batch.
	WithdrawalReverted
)

// Withdrawal is an L2-to-L1 exit tied to the settlement batch containing
// its burn transaction. It becomes claimable when that batch finalizes.
type Withdrawal struct {
	L2TxHash    types.Digest
	Sender      types.Address
	L1Recipient string
	Amount      uint64
	BatchID     uint64
	Status      WithdrawalStatus
}
