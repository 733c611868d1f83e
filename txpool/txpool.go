// Package txpool implements the fee-prioritized transaction pool: per-sender
// nonce ordering, replace-by-fee, nonce-gap queueing, and block-building
// selection by effective gas price.
package txpool

import (
	"container/heap"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/core/vm"
	"github.com/solstice-l2/solstice/metrics"
)

// AddResult is the typed outcome of Pool.Add.
type AddResult int

const (
	Added AddResult = iota
	Replaced
	AlreadyKnown
	Underpriced
	NonceTooLow
	NonceTooHigh
	InsufficientFunds
	PoolFull
	Invalid
)

// String implements fmt.Stringer.
func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case AlreadyKnown:
		return "already known"
	case Underpriced:
		return "underpriced"
	case NonceTooLow:
		return "nonce too low"
	case NonceTooHigh:
		return "nonce too high"
	case InsufficientFunds:
		return "insufficient funds"
	case PoolFull:
		return "pool full"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Accepted reports whether the result means the transaction is now pooled.
func (r AddResult) Accepted() bool { return r == Added || r == Replaced }

// NonceReader supplies the committed account nonce for admission checks.
type NonceReader interface {
	NonceAt(addr types.Address) uint64
}

// Config tunes the pool.
type Config struct {
	// MaxSize is the pool-wide transaction cap.
	MaxSize int

	// MaxPerSender caps transactions queued per sender.
	MaxPerSender int

	// PriceBumpPercent is the minimum replace-by-fee bump (10 = +10%).
	PriceBumpPercent uint64

	// MaxNonceGap is how far above the account nonce a transaction may be
	// queued before it is rejected as NonceTooHigh.
	MaxNonceGap uint64

	// MaxTxSize bounds the encoded transaction size.
	MaxTxSize int

	// AllowDevSignatures accepts the all-0xFF test signature.
	AllowDevSignatures bool
}

// DefaultConfig returns the production pool parameters.
func DefaultConfig() Config {
	return Config{
		MaxSize:          4096,
		MaxPerSender:     64,
		PriceBumpPercent: 10,
		MaxNonceGap:      64,
		MaxTxSize:        128 * 1024,
	}
}

type entry struct {
	tx      *types.Transaction
	arrival uint64
}

// Pool is the mempool. One mutex guards all structures; every operation is
// short.
type Pool struct {
	mu sync.Mutex

	cfg   Config
	state NonceReader
	log   *zap.Logger

	all     map[types.Digest]*entry
	senders map[[types.AddressLength]byte]map[uint64]*entry
	arrival uint64
}

// New creates a pool reading nonces from state.
func New(cfg Config, state NonceReader, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		state:   state,
		log:     logger,
		all:     make(map[types.Digest]*entry),
		senders: make(map[[types.AddressLength]byte]map[uint64]*entry),
	}
}

// Add admits tx against the sender's balance, enforcing duplicate, nonce,
// funds, replacement, and capacity rules in that order.
func (p *Pool) Add(tx *types.Transaction, senderBalance uint64) AddResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, known := p.all[hash]; known {
		return AlreadyKnown
	}
	if len(tx.Data) > p.cfg.MaxTxSize {
		return Invalid
	}
	if tx.GasLimit < vm.IntrinsicGas(tx.Data, tx.IsCreate()) {
		return Invalid
	}
	if !p.verifySignature(tx) {
		return Invalid
	}

	stateNonce := p.state.NonceAt(tx.From)
	if tx.Nonce < stateNonce {
		return NonceTooLow
	}
	if tx.Nonce > stateNonce+p.cfg.MaxNonceGap {
		return NonceTooHigh
	}

	cost, ok := tx.Cost()
	if !ok || cost > senderBalance {
		return InsufficientFunds
	}

	byNonce := p.senders[tx.From.Payload]
	if old, exists := byNonce[tx.Nonce]; exists {
		// Replace-by-fee: the new fee cap must be at least 110% of the old.
		bump := old.tx.MaxFee + old.tx.MaxFee*p.cfg.PriceBumpPercent/100
		if tx.MaxFee < bump {
			return Underpriced
		}
		delete(p.all, old.tx.Hash())
		p.insert(tx)
		return Replaced
	}

	if len(p.all) >= p.cfg.MaxSize {
		return PoolFull
	}
	if len(byNonce) >= p.cfg.MaxPerSender {
		return PoolFull
	}

	p.insert(tx)
	return Added
}

func (p *Pool) verifySignature(tx *types.Transaction) bool {
	if p.cfg.AllowDevSignatures && isDevSignature(tx) {
		return !tx.From.IsZero()
	}
	return tx.VerifySignature()
}

func isDevSignature(tx *types.Transaction) bool {
	for _, b := range tx.Signature {
		if b != 0xff {
			return false
		}
	}
	return true
}

// insert stores tx; the caller has already removed any replaced entry.
func (p *Pool) insert(tx *types.Transaction) {
	e := &entry{tx: tx, arrival: p.arrival}
	p.arrival++
	p.all[tx.Hash()] = e
	byNonce := p.senders[tx.From.Payload]
	if byNonce == nil {
		byNonce = make(map[uint64]*entry)
		p.senders[tx.From.Payload] = byNonce
	}
	byNonce[tx.Nonce] = e
	metrics.PoolSize.Set(float64(len(p.all)))
}

// Get returns the pooled transaction with the given hash, or nil.
func (p *Pool) Get(hash types.Digest) *types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.all[hash]; ok {
		return e.tx
	}
	return nil
}

// Size returns the number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// RemoveConfirmed drops the listed transactions and prunes every entry made
// stale by the advanced account nonces.
func (p *Pool) RemoveConfirmed(hashes []types.Digest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := make(map[[types.AddressLength]byte]types.Address)
	for _, hash := range hashes {
		e, ok := p.all[hash]
		if !ok {
			continue
		}
		delete(p.all, hash)
		if byNonce := p.senders[e.tx.From.Payload]; byNonce != nil {
			delete(byNonce, e.tx.Nonce)
		}
		touched[e.tx.From.Payload] = e.tx.From
	}
	for payload, addr := range touched {
		byNonce := p.senders[payload]
		stateNonce := p.state.NonceAt(addr)
		for nonce, e := range byNonce {
			if nonce < stateNonce {
				delete(p.all, e.tx.Hash())
				delete(byNonce, nonce)
			}
		}
		if len(byNonce) == 0 {
			delete(p.senders, payload)
		}
	}
	metrics.PoolSize.Set(float64(len(p.all)))
}

// senderRun is a sender's executable transaction sequence plus the cursor
// used while draining it through the selection heap.
type senderRun struct {
	txs     []*entry
	next    int
	current *entry
}

func (r *senderRun) price(baseFee uint64) uint64 {
	return r.current.tx.EffectiveGasPrice(baseFee)
}

type selectHeap struct {
	runs    []*senderRun
	baseFee uint64
}

func (h *selectHeap) Len() int { return len(h.runs) }

func (h *selectHeap) Less(i, j int) bool {
	pi, pj := h.runs[i].price(h.baseFee), h.runs[j].price(h.baseFee)
	if pi != pj {
		return pi > pj
	}
	return h.runs[i].current.arrival < h.runs[j].current.arrival
}

func (h *selectHeap) Swap(i, j int) { h.runs[i], h.runs[j] = h.runs[j], h.runs[i] }

func (h *selectHeap) Push(x any) { h.runs = append(h.runs, x.(*senderRun)) }

func (h *selectHeap) Pop() any {
	old := h.runs
	n := len(old)
	r := old[n-1]
	h.runs = old[:n-1]
	return r
}

// Select returns transactions for the next block: per sender contiguous
// nonces starting at the account nonce, effective price at or above the
// base fee, total gas within gasLimit, ordered by non-increasing effective
// price with arrival order breaking ties.
func (p *Pool) Select(gasLimit, baseFee uint64) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := &selectHeap{baseFee: baseFee}
	for _, addr := range p.senderAddrs() {
		byNonce := p.senders[addr.Payload]
		run := &senderRun{}
		nonce := p.state.NonceAt(addr)
		for {
			e, ok := byNonce[nonce]
			if !ok {
				break
			}
			if e.tx.EffectiveGasPrice(baseFee) < baseFee {
				// A priced-out nonce breaks the contiguous run.
				break
			}
			run.txs = append(run.txs, e)
			nonce++
		}
		if len(run.txs) > 0 {
			run.current = run.txs[0]
			run.next = 1
			h.runs = append(h.runs, run)
		}
	}
	heap.Init(h)

	var (
		selected []*types.Transaction
		gasLeft  = gasLimit
	)
	for h.Len() > 0 {
		run := heap.Pop(h).(*senderRun)
		tx := run.current.tx
		if tx.GasLimit > gasLeft {
			// Dropping the head drops the sender's later nonces too, to
			// preserve contiguity.
			continue
		}
		selected = append(selected, tx)
		gasLeft -= tx.GasLimit
		if run.next < len(run.txs) {
			run.current = run.txs[run.next]
			run.next++
			heap.Push(h, run)
		}
	}
	return selected
}

// senderAddrs returns the pooled sender addresses in deterministic order.
func (p *Pool) senderAddrs() []types.Address {
	addrs := make([]types.Address, 0, len(p.senders))
	for _, byNonce := range p.senders {
		for _, e := range byNonce {
			addrs = append(addrs, e.tx.From)
			break
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}

// PendingNonce returns the next nonce the sender should use: the end of the
// contiguous pooled run starting at the account nonce.
func (p *Pool) PendingNonce(addr types.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	nonce := p.state.NonceAt(addr)
	byNonce := p.senders[addr.Payload]
	for {
		if _, ok := byNonce[nonce]; !ok {
			return nonce
		}
		nonce++
	}
}

// ContentBySender returns the sender's pooled transactions in nonce order.
func (p *Pool) ContentBySender(addr types.Address) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	byNonce := p.senders[addr.Payload]
	nonces := make([]uint64, 0, len(byNonce))
	for n := range byNonce {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	txs := make([]*types.Transaction, 0, len(nonces))
	for _, n := range nonces {
		txs = append(txs, byNonce[n].tx)
	}
	return txs
}

// Stats summarizes the pool: executable (pending) versus gapped (queued)
// transactions.
type Stats struct {
	Pending int
	Queued  int
}

// GetStats counts executable and queued transactions.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats Stats
	for _, addr := range p.senderAddrs() {
		byNonce := p.senders[addr.Payload]
		nonce := p.state.NonceAt(addr)
		contiguous := 0
		for {
			if _, ok := byNonce[nonce]; !ok {
				break
			}
			contiguous++
			nonce++
		}
		stats.Pending += contiguous
		stats.Queued += len(byNonce) - contiguous
	}
	return stats
}
