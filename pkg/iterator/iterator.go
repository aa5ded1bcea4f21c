package iterator

// Iterator iterates over a sorted sequence of encoded entries.
type Iterator interface {
	// Valid reports whether the iterator points to a valid entry.
	Valid() bool
	// SeekToFirst moves to the smallest entry.
	SeekToFirst()
	// SeekToLast moves to the largest entry.
	SeekToLast()
	// Seek moves the iterator to the first entry >= target.
	Seek(target []byte)
	// SeekForPrev moves the iterator to the last entry <= target.
	SeekForPrev(target []byte)
	// Next advances to the next entry.
	Next()
	// Prev moves to the previous entry.
	Prev()
	// Key returns the current encoded entry.
	Key() []byte
}
