// Package state implements the journaled account state store: accounts,
// contract storage, and code over a raw key-value database, with
// snapshot/revert for tentative execution and Merkle state-root commits.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// ErrBalanceUnderflow is returned when a debit exceeds the balance.
var ErrBalanceUnderflow = errors.New("state: balance underflow")

// codeCacheSize bounds the shared contract-code cache.
const codeCacheSize = 512

// stateObject is the in-memory view of one account.
type stateObject struct {
	addr    types.Address
	account types.Account

	// storage holds every touched slot; nil/empty value means absent.
	storage      map[types.Digest][]byte
	dirtyStorage map[types.Digest]struct{}

	code       []byte
	codeLoaded bool

	dirty   bool // account fields or storage changed since last commit
	deleted bool // self-destructed this block
	existed bool // present in the database before this block
}

// StateDB is the mutable world state. It is not safe for concurrent use;
// the block processor is its single writer (see the node's locking).
type StateDB struct {
	db      rawdb.Database
	objects map[[types.AddressLength]byte]*stateObject
	logs    []*types.Log
	journal *journal

	// dbErr latches the first database failure; Commit refuses to proceed
	// while it is set.
	dbErr error

	codeCache *lru.Cache[types.Digest, []byte]
}

// New creates a StateDB over db.
func New(db rawdb.Database) (*StateDB, error) {
	cache, err := lru.New[types.Digest, []byte](codeCacheSize)
	if err != nil {
		return nil, err
	}
	return &StateDB{
		db:        db,
		objects:   make(map[[types.AddressLength]byte]*stateObject),
		journal:   newJournal(),
		codeCache: cache,
	}, nil
}

// getObject loads the object for addr, pulling it from the database on first
// touch. Returns nil only on a database error.
func (s *StateDB) getObject(addr types.Address) (*stateObject, error) {
	if obj, ok := s.objects[addr.Payload]; ok {
		return obj, nil
	}
	obj := &stateObject{
		addr:         addr,
		storage:      make(map[types.Digest][]byte),
		dirtyStorage: make(map[types.Digest]struct{}),
	}
	raw, err := s.db.Get(rawdb.AccountKey(addr))
	switch {
	case errors.Is(err, rawdb.ErrNotFound):
		// absent account: zero value
	case err != nil:
		return nil, fmt.Errorf("state: load account %s: %w", addr, err)
	default:
		acct, decErr := types.DecodeAccount(raw)
		if decErr != nil {
			return nil, fmt.Errorf("state: decode account %s: %w", addr, decErr)
		}
		obj.account = acct
		obj.existed = true
	}
	s.objects[addr.Payload] = obj
	return obj, nil
}

// mustObject is getObject for paths where a database failure is fatal to the
// current operation; the error is stashed and surfaced at Commit.
func (s *StateDB) mustObject(addr types.Address) *stateObject {
	obj, err := s.getObject(addr)
	if err != nil {
		// Surface a poisoned object; Commit will fail on dbErr.
		s.dbErr = err
		obj = &stateObject{
			addr:         addr,
			storage:      make(map[types.Digest][]byte),
			dirtyStorage: make(map[types.Digest]struct{}),
		}
		s.objects[addr.Payload] = obj
	}
	return obj
}

// GetAccount returns the account state for addr; an absent account is the
// zero value.
func (s *StateDB) GetAccount(addr types.Address) types.Account {
	obj := s.mustObject(addr)
	if obj.deleted {
		return types.Account{}
	}
	return obj.account
}

// SetAccount overwrites the account state for addr. Journaled.
func (s *StateDB) SetAccount(addr types.Address, acct types.Account) {
	obj := s.mustObject(addr)
	s.journal.append(accountChange{addr: addr, prev: obj.account})
	obj.account = acct
	obj.dirty = true
}

// Exist reports whether addr has any state.
func (s *StateDB) Exist(addr types.Address) bool {
	obj := s.mustObject(addr)
	return !obj.deleted && (obj.existed || !obj.account.IsEmpty())
}

// CreateAccount ensures an object exists for addr. An existing account keeps
// its balance, matching conventional create semantics.
func (s *StateDB) CreateAccount(addr types.Address) {
	prev, ok := s.objects[addr.Payload]
	if ok {
		s.journal.append(createObjectChange{addr: addr, prev: prev})
		fresh := &stateObject{
			addr:         addr,
			storage:      make(map[types.Digest][]byte),
			dirtyStorage: make(map[types.Digest]struct{}),
			existed:      prev.existed,
			dirty:        true,
		}
		fresh.account.Balance = prev.account.Balance
		s.objects[addr.Payload] = fresh
		return
	}
	obj := s.mustObject(addr)
	s.journal.append(createObjectChange{addr: addr, prev: nil})
	obj.dirty = true
}

// GetBalance returns the balance of addr.
func (s *StateDB) GetBalance(addr types.Address) uint64 {
	return s.GetAccount(addr).Balance
}

// AddBalance credits amount to addr.
func (s *StateDB) AddBalance(addr types.Address, amount uint64) {
	obj := s.mustObject(addr)
	s.journal.append(balanceChange{addr: addr, prev: obj.account.Balance})
	obj.account.Balance += amount
	obj.dirty = true
}

// SubBalance debits amount from addr, failing with ErrBalanceUnderflow if
// the balance is insufficient.
func (s *StateDB) SubBalance(addr types.Address, amount uint64) error {
	obj := s.mustObject(addr)
	if obj.account.Balance < amount {
		return ErrBalanceUnderflow
	}
	s.journal.append(balanceChange{addr: addr, prev: obj.account.Balance})
	obj.account.Balance -= amount
	obj.dirty = true
	return nil
}

// GetNonce returns the nonce of addr.
func (s *StateDB) GetNonce(addr types.Address) uint64 {
	return s.GetAccount(addr).Nonce
}

// SetNonce sets the nonce of addr.
func (s *StateDB) SetNonce(addr types.Address, nonce uint64) {
	obj := s.mustObject(addr)
	s.journal.append(nonceChange{addr: addr, prev: obj.account.Nonce})
	obj.account.Nonce = nonce
	obj.dirty = true
}

// IncrementNonce bumps the nonce of addr by one.
func (s *StateDB) IncrementNonce(addr types.Address) {
	s.SetNonce(addr, s.GetNonce(addr)+1)
}

// GetCode returns the contract code of addr, or nil.
func (s *StateDB) GetCode(addr types.Address) []byte {
	obj := s.mustObject(addr)
	if obj.deleted || !obj.account.IsContract() {
		return nil
	}
	if obj.codeLoaded {
		return obj.code
	}
	if code, ok := s.codeCache.Get(obj.account.CodeHash); ok {
		obj.code, obj.codeLoaded = code, true
		return code
	}
	raw, err := s.db.Get(rawdb.CodeKey(obj.account.CodeHash))
	if err != nil {
		if !errors.Is(err, rawdb.ErrNotFound) {
			s.dbErr = err
		}
		return nil
	}
	s.codeCache.Add(obj.account.CodeHash, raw)
	obj.code, obj.codeLoaded = raw, true
	return raw
}

// GetCodeHash returns the code hash of addr.
func (s *StateDB) GetCodeHash(addr types.Address) types.Digest {
	if s.mustObject(addr).deleted {
		return types.Digest{}
	}
	return s.GetAccount(addr).CodeHash
}

// GetCodeSize returns the code length of addr.
func (s *StateDB) GetCodeSize(addr types.Address) int {
	return len(s.GetCode(addr))
}

// SetCode installs code on addr; the code is stored once per distinct hash.
func (s *StateDB) SetCode(addr types.Address, code []byte) {
	obj := s.mustObject(addr)
	s.journal.append(codeChange{addr: addr, prevCode: obj.code, prevHash: obj.account.CodeHash})
	obj.code = code
	obj.codeLoaded = true
	obj.account.CodeHash = crypto.Hash(code)
	obj.dirty = true
}

// GetStorage returns the raw storage value at (addr, slot), nil when absent.
func (s *StateDB) GetStorage(addr types.Address, slot types.Digest) []byte {
	obj := s.mustObject(addr)
	if obj.deleted {
		return nil
	}
	if v, ok := obj.storage[slot]; ok {
		return v
	}
	raw, err := s.db.Get(rawdb.StorageKey(addr, slot))
	if err != nil {
		if !errors.Is(err, rawdb.ErrNotFound) {
			s.dbErr = err
		}
		raw = nil
	}
	obj.storage[slot] = raw
	return raw
}

// SetStorage writes the raw storage value at (addr, slot). An empty value
// clears the slot.
func (s *StateDB) SetStorage(addr types.Address, slot types.Digest, value []byte) {
	prev := s.GetStorage(addr, slot)
	obj := s.mustObject(addr)
	s.journal.append(storageChange{addr: addr, slot: slot, prev: prev})
	if len(value) == 0 {
		obj.storage[slot] = nil
	} else {
		v := make([]byte, len(value))
		copy(v, value)
		obj.storage[slot] = v
	}
	obj.dirtyStorage[slot] = struct{}{}
	obj.dirty = true
}

// GetState is the 32-byte word view of GetStorage used by the VM.
func (s *StateDB) GetState(addr types.Address, slot types.Digest) types.Digest {
	return types.BytesToDigest(s.GetStorage(addr, slot))
}

// SetState is the 32-byte word view of SetStorage used by the VM. Storing
// the zero word clears the slot.
func (s *StateDB) SetState(addr types.Address, slot, value types.Digest) {
	if value.IsZero() {
		s.SetStorage(addr, slot, nil)
		return
	}
	s.SetStorage(addr, slot, value[:])
}

// SelfDestruct zeroes the balance and marks addr for deletion at commit.
func (s *StateDB) SelfDestruct(addr types.Address) {
	obj := s.mustObject(addr)
	s.journal.append(selfDestructChange{
		addr:        addr,
		prevDeleted: obj.deleted,
		prevBalance: obj.account.Balance,
	})
	obj.deleted = true
	obj.account.Balance = 0
	obj.dirty = true
}

// HasSelfDestructed reports whether addr was self-destructed this block.
func (s *StateDB) HasSelfDestructed(addr types.Address) bool {
	return s.mustObject(addr).deleted
}

// AddLog records a log emitted by the current transaction.
func (s *StateDB) AddLog(log *types.Log) {
	s.journal.append(addLogChange{})
	s.logs = append(s.logs, log)
}

// TakeLogs returns and clears the logs accumulated since the last call.
// Called once per transaction after execution settles.
func (s *StateDB) TakeLogs() []*types.Log {
	logs := s.logs
	s.logs = nil
	return logs
}

// Snapshot returns an identifier for the current state, for RevertToSnapshot.
func (s *StateDB) Snapshot() int {
	return s.journal.snapshot()
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (s *StateDB) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

// IntermediateRoot computes the state root the current in-memory delta
// would commit to, without writing anything.
func (s *StateDB) IntermediateRoot() (types.Digest, error) {
	if s.dbErr != nil {
		return types.Digest{}, s.dbErr
	}
	return s.foldRoot(nil)
}

// Commit finalizes the in-memory delta: computes per-account storage roots,
// writes one atomic batch, recomputes the state root over every account
// ordered by address, and clears the journal.
func (s *StateDB) Commit() (types.Digest, error) {
	if s.dbErr != nil {
		return types.Digest{}, s.dbErr
	}
	batch := s.db.NewBatch()
	root, err := s.foldRoot(batch)
	if err != nil {
		return types.Digest{}, err
	}
	if err := batch.Write(); err != nil {
		return types.Digest{}, fmt.Errorf("state: commit batch: %w", err)
	}
	s.objects = make(map[[types.AddressLength]byte]*stateObject)
	s.logs = nil
	s.journal.reset()
	return root, nil
}

// foldRoot computes the post-delta state root. When batch is non-nil the
// dirty accounts, storage slots, and code are staged on it.
func (s *StateDB) foldRoot(batch rawdb.Batch) (types.Digest, error) {

	// Settle storage roots for accounts with dirty slots, and stage slot
	// writes.
	for _, obj := range s.objects {
		if obj.deleted || len(obj.dirtyStorage) == 0 {
			continue
		}
		root, err := s.storageRoot(obj, batch)
		if err != nil {
			return types.Digest{}, err
		}
		obj.account.StorageRoot = root
	}

	// Assemble the full account set: everything on disk overlaid with the
	// in-memory objects.
	full := make(map[[types.AddressLength]byte][]byte)
	it := s.db.NewIterator(rawdb.StatePrefix())
	for it.Next() {
		key := it.Key()
		if len(key) != 1+types.AddressLength {
			continue
		}
		var payload [types.AddressLength]byte
		copy(payload[:], key[1:])
		full[payload] = it.Value()
	}
	if err := it.Error(); err != nil {
		it.Release()
		return types.Digest{}, err
	}
	it.Release()

	for payload, obj := range s.objects {
		switch {
		case obj.deleted:
			delete(full, payload)
			if batch != nil {
				batch.Delete(rawdb.AccountKey(obj.addr))
			}
		case obj.dirty:
			enc := obj.account.Encode()
			full[payload] = enc
			if batch != nil {
				batch.Put(rawdb.AccountKey(obj.addr), enc)
				if obj.codeLoaded && obj.account.IsContract() {
					batch.Put(rawdb.CodeKey(obj.account.CodeHash), obj.code)
					s.codeCache.Add(obj.account.CodeHash, obj.code)
				}
			}
		}
	}

	// State root: leaves H(addr ‖ account) in ascending address order.
	payloads := make([][types.AddressLength]byte, 0, len(full))
	for p := range full {
		payloads = append(payloads, p)
	}
	sort.Slice(payloads, func(i, j int) bool {
		return bytes.Compare(payloads[i][:], payloads[j][:]) < 0
	})
	leaves := make([]crypto.Digest, len(payloads))
	for i, p := range payloads {
		leaves[i] = crypto.HashConcat(p[:], full[p])
	}
	return crypto.MerkleRoot(leaves), nil
}

// storageRoot folds the dirty slots of obj over its persisted storage,
// stages the slot writes on batch, and returns the Merkle root over
// H(slot ‖ value) leaves in ascending slot order.
func (s *StateDB) storageRoot(obj *stateObject, batch rawdb.Batch) (types.Digest, error) {
	slots := make(map[types.Digest][]byte)
	it := s.db.NewIterator(rawdb.AccountStoragePrefix(obj.addr))
	prefixLen := len(rawdb.AccountStoragePrefix(obj.addr))
	for it.Next() {
		key := it.Key()
		if len(key) != prefixLen+types.DigestLength {
			continue
		}
		var slot types.Digest
		copy(slot[:], key[prefixLen:])
		slots[slot] = it.Value()
	}
	if err := it.Error(); err != nil {
		it.Release()
		return types.Digest{}, err
	}
	it.Release()

	for slot := range obj.dirtyStorage {
		value := obj.storage[slot]
		if len(value) == 0 {
			delete(slots, slot)
			if batch != nil {
				batch.Delete(rawdb.StorageKey(obj.addr, slot))
			}
		} else {
			slots[slot] = value
			if batch != nil {
				batch.Put(rawdb.StorageKey(obj.addr, slot), value)
			}
		}
	}

	ordered := make([]types.Digest, 0, len(slots))
	for slot := range slots {
		ordered = append(ordered, slot)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})
	leaves := make([]crypto.Digest, len(ordered))
	for i, slot := range ordered {
		leaves[i] = crypto.HashConcat(slot[:], slots[slot])
	}
	return crypto.MerkleRoot(leaves), nil
}
