package clock

import (
	"sync/atomic"

	"hyperdb/pkg/types"
)

// Sequence issues monotonically increasing sequence numbers for writes.
type Sequence struct {
	v atomic.Uint64
}

func NewSequence(init types.SequenceNumber) *Sequence {
	var s Sequence
	s.Set(init)
	return &s
}

func (s *Sequence) Val() types.SequenceNumber {
	return types.SequenceNumber(s.v.Load())
}

func (s *Sequence) Next() types.SequenceNumber {
	return types.SequenceNumber(s.v.Add(1))
}

func (s *Sequence) Set(t types.SequenceNumber) {
	s.v.Store(uint64(t))
}
