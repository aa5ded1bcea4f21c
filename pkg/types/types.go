package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SequenceNumber represents a monotonically increasing sequence used to
// order writes inside a memtable and across flushed runs.
type SequenceNumber uint64

// MaxSequenceNumber is the highest encodable sequence. Lookup keys are
// built with it so that a point lookup lands on the newest entry for a
// user key.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// KeyKind tags an internal key with the operation it carries.
type KeyKind uint8

const (
	KindDeletion KeyKind = 0
	KindValue    KeyKind = 1
)
