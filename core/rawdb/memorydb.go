package rawdb

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrClosed is returned on use after Close.
var ErrClosed = errors.New("rawdb: database closed")

// MemoryDatabase is a map-backed Database for tests and ephemeral nodes.
type MemoryDatabase struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryDatabase creates an empty in-memory database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{data: make(map[string][]byte)}
}

// Get implements KeyValueReader.
func (db *MemoryDatabase) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	v, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Has implements KeyValueReader.
func (db *MemoryDatabase) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return false, ErrClosed
	}
	_, ok := db.data[string(key)]
	return ok, nil
}

// Put implements KeyValueWriter.
func (db *MemoryDatabase) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	db.data[string(key)] = v
	return nil
}

// Delete implements KeyValueWriter.
func (db *MemoryDatabase) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	delete(db.data, string(key))
	return nil
}

// Len returns the number of stored keys.
func (db *MemoryDatabase) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// Close implements Database.
func (db *MemoryDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// NewBatch implements Database.
func (db *MemoryDatabase) NewBatch() Batch {
	return &memoryBatch{db: db}
}

// NewIterator implements Database. The iterator sees a snapshot of the keys
// taken at creation.
func (db *MemoryDatabase) NewIterator(prefix []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var keys []string
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		v := make([]byte, len(db.data[k]))
		copy(v, db.data[k])
		values[i] = v
	}
	return &memoryIterator{keys: keys, values: values, pos: -1}
}

type memoryBatch struct {
	db      *MemoryDatabase
	writes  []memoryWrite
	dataLen int
}

type memoryWrite struct {
	key    string
	value  []byte
	delete bool
}

func (b *memoryBatch) Put(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	b.writes = append(b.writes, memoryWrite{key: string(key), value: v})
	b.dataLen += len(key) + len(value)
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.writes = append(b.writes, memoryWrite{key: string(key), delete: true})
	b.dataLen += len(key)
	return nil
}

func (b *memoryBatch) ValueSize() int { return b.dataLen }

func (b *memoryBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.closed {
		return ErrClosed
	}
	for _, w := range b.writes {
		if w.delete {
			delete(b.db.data, w.key)
		} else {
			b.db.data[w.key] = w.value
		}
	}
	return nil
}

func (b *memoryBatch) Reset() {
	b.writes = b.writes[:0]
	b.dataLen = 0
}

type memoryIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memoryIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.pos])
}

func (it *memoryIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.values) {
		return nil
	}
	return it.values[it.pos]
}

func (it *memoryIterator) Release() {}

func (it *memoryIterator) Error() error { return nil }
