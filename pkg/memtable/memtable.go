package memtable

import (
	"hyperdb/pkg/arena"
	"hyperdb/pkg/iterator"
)

// KeyComparator orders encoded memtable entries. The memtable treats
// entry bytes as opaque; everything it needs to know about the encoding
// goes through this interface.
type KeyComparator interface {
	// Compare orders two encoded entries.
	Compare(a, b []byte) int
	// CompareKey orders an encoded entry against a bare internal key.
	CompareKey(entry []byte, key []byte) int
	// UserKey extracts the user key of an encoded entry.
	UserKey(entry []byte) []byte
	// UserKeyFromKey extracts the user key of a bare internal key.
	UserKeyFromKey(key []byte) []byte
	// InternalKey extracts the bare internal key of an encoded entry.
	InternalKey(entry []byte) []byte
}

// KeyHandle is a slot reserved by Allocate and later installed by
// Insert. The entry bytes live in the memtable's arena and outlive any
// iterator the memtable can produce.
type KeyHandle struct {
	next  *KeyHandle
	entry []byte
}

// Entry returns the encoded bytes the handle carries.
func (h *KeyHandle) Entry() []byte { return h.entry }

const (
	defaultBucketCount    = 1 << 20
	defaultVectorCapacity = 10000
	// handles smaller than this still get a full inline slot
	inlineEntrySize = 16
)

// Config sizes the memtable's hash table and sorted vectors. Zero
// values fall back to the defaults.
type Config struct {
	BucketCount    int
	VectorCapacity int
}

// Memtable accepts concurrent inserts with O(1) point lookup and
// produces a sorted forward/backward iterator. Writes land in hash
// buckets and are appended to the tail sorted vector; a background
// thread sorts and merges sealed vectors so ordered reads stay cheap.
type Memtable struct {
	cmp   KeyComparator
	table *hashTable
	cont  *vectorContainer
	arena *arena.Arena
}

func New(cmp KeyComparator, cfg Config) *Memtable {
	if cfg.BucketCount <= 0 {
		cfg.BucketCount = defaultBucketCount
	}
	if cfg.VectorCapacity <= 0 {
		cfg.VectorCapacity = defaultVectorCapacity
	}
	return &Memtable{
		cmp:   cmp,
		table: newHashTable(cfg.BucketCount, numBucketLocks),
		cont:  newVectorContainer(cmp, cfg.VectorCapacity),
		arena: arena.New(),
	}
}

// Allocate reserves an entry slot of n bytes from the arena and returns
// the handle together with the writable buffer. The caller encodes the
// entry into the buffer and then calls Insert.
func (m *Memtable) Allocate(n int) (*KeyHandle, []byte) {
	size := n
	if size < inlineEntrySize {
		size = inlineEntrySize
	}
	buf := m.arena.Allocate(size)
	h := &KeyHandle{entry: buf[:n]}
	return h, h.entry
}

// Insert installs the handle into its hash bucket and appends it to the
// tail sorted vector. A duplicate key (comparator returns 0) fails
// silently and is not appended.
func (m *Memtable) Insert(h *KeyHandle) bool {
	if !m.table.add(h, m.cmp) {
		return false
	}
	m.cont.insert(h.entry)
	return true
}

// Contains reports whether an entry equal to the given encoded entry
// was successfully inserted.
func (m *Memtable) Contains(entry []byte) bool {
	return m.table.contains(entry, m.cmp)
}

// Get enumerates entries matching lookupKey (a bare internal key) and
// everything after it inside the bucket, in ascending key order,
// stopping when fn returns false.
func (m *Memtable) Get(lookupKey []byte, fn func(entry []byte) bool) {
	m.table.get(lookupKey, m.cmp, fn)
}

// NewIterator returns an ordered iterator over the memtable. If the
// memtable is still mutable a fresh tail vector is appended first so
// the snapshot is well-defined.
func (m *Memtable) NewIterator() iterator.Iterator {
	if m.cont.isEmpty() {
		return emptyIterator{}
	}
	return newVectorIterator(m.cont, m.cmp)
}

// MarkReadOnly freezes the container. The sort thread seals every
// vector and terminates; MarkReadOnly returns once draining finished.
func (m *Memtable) MarkReadOnly() {
	m.cont.markReadOnly()
}

// ApproximateMemoryUsage reports the arena's backing size.
func (m *Memtable) ApproximateMemoryUsage() uint64 {
	return m.arena.MemoryUsage()
}
