package state

import (
	"github.com/solstice-l2/solstice/core/types"
)

// journalEntry is a single revertible mutation.
type journalEntry interface {
	revert(s *StateDB)
}

// journal records mutations so snapshots can be rolled back.
type journal struct {
	entries   []journalEntry
	snapshots map[int]int // snapshot id -> entry index
	nextID    int
}

func newJournal() *journal {
	return &journal{snapshots: make(map[int]int)}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

func (j *journal) revertToSnapshot(id int, s *StateDB) {
	idx, ok := j.snapshots[id]
	if !ok {
		return
	}
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]
	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
	j.snapshots = make(map[int]int)
	j.nextID = 0
}

// --- entries ---

type createObjectChange struct {
	addr types.Address
	prev *stateObject // nil if the account did not exist
}

func (ch createObjectChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.objects, ch.addr.Payload)
	} else {
		s.objects[ch.addr.Payload] = ch.prev
	}
}

type accountChange struct {
	addr types.Address
	prev types.Account
}

func (ch accountChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.account = ch.prev
	}
}

type balanceChange struct {
	addr types.Address
	prev uint64
}

func (ch balanceChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.account.Balance = ch.prev
	}
}

type nonceChange struct {
	addr types.Address
	prev uint64
}

func (ch nonceChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.account.Nonce = ch.prev
	}
}

type storageChange struct {
	addr types.Address
	slot types.Digest
	prev []byte
}

func (ch storageChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.storage[ch.slot] = ch.prev
	}
}

type codeChange struct {
	addr     types.Address
	prevCode []byte
	prevHash types.Digest
}

func (ch codeChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.code = ch.prevCode
		obj.codeLoaded = ch.prevCode != nil
		obj.account.CodeHash = ch.prevHash
	}
}

type selfDestructChange struct {
	addr        types.Address
	prevDeleted bool
	prevBalance uint64
}

func (ch selfDestructChange) revert(s *StateDB) {
	if obj := s.objects[ch.addr.Payload]; obj != nil {
		obj.deleted = ch.prevDeleted
		obj.account.Balance = ch.prevBalance
	}
}

type addLogChange struct{}

func (ch addLogChange) revert(s *StateDB) {
	// Logs already drained by TakeLogs leave nothing to pop; a block-level
	// revert after a completed transaction hits this case.
	if n := len(s.logs); n > 0 {
		s.logs = s.logs[:n-1]
	}
}
