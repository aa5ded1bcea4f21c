package memtable

import (
	"sync"
	"sync/atomic"
)

// Vectors beyond this many trigger a merge pass; a single merge folds
// at most this many small vectors.
const kMergedVectorsMax = 8

// vectorContainer holds the ordered list of sorted vectors. At most one
// vector is unsealed and it is always the tail. Once the container is
// marked read-only the list is immutable and every vector is sealed.
type vectorContainer struct {
	cmp        KeyComparator
	svCapacity int

	rw      sync.RWMutex
	vectors []*sortedVector

	numEntries atomic.Uint64
	immutable  atomic.Bool

	sortMu   sync.Mutex
	sortCond *sync.Cond
	wake     bool

	drained  chan struct{}
	readOnly sync.Once
}

func newVectorContainer(cmp KeyComparator, svCapacity int) *vectorContainer {
	c := &vectorContainer{
		cmp:        cmp,
		svCapacity: svCapacity,
		vectors:    []*sortedVector{newSortedVector(svCapacity)},
		drained:    make(chan struct{}),
	}
	c.sortCond = sync.NewCond(&c.sortMu)
	go c.sortLoop()
	return c
}

func (c *vectorContainer) isEmpty() bool { return c.numEntries.Load() == 0 }

func (c *vectorContainer) tryInsert(entry []byte) bool {
	return c.vectors[len(c.vectors)-1].add(entry)
}

// insert appends the entry to the tail vector. On overflow the writer
// upgrades to the write lock, re-checks, appends a fresh tail and
// retries; exactly one writer wins the append, losers succeed on the
// retry.
func (c *vectorContainer) insert(entry []byte) {
	c.numEntries.Add(1)

	c.rw.RLock()
	ok := c.tryInsert(entry)
	c.rw.RUnlock()
	if ok {
		return
	}

	notify := false
	c.rw.Lock()
	if !c.tryInsert(entry) {
		c.vectors = append(c.vectors, newSortedVector(c.svCapacity))
		notify = true
		if !c.tryInsert(entry) {
			panic("memtable: insert into fresh vector failed")
		}
	}
	c.rw.Unlock()

	if notify {
		c.signalSort()
	}
}

func (c *vectorContainer) signalSort() {
	c.sortMu.Lock()
	c.wake = true
	c.sortCond.Signal()
	c.sortMu.Unlock()
}

func (c *vectorContainer) snapshot() []*sortedVector {
	c.rw.RLock()
	vecs := c.vectors
	c.rw.RUnlock()
	return vecs
}

// sortLoop is the single cooperative sort thread. On wake it seals
// vectors from its cursor up to the penultimate tail (the active tail
// stays untouched), then considers merging runs of small vectors. On
// read-only it drains: every vector is sealed, then the thread exits.
func (c *vectorContainer) sortLoop() {
	c.sortMu.Lock()
	cursor := 0
	for {
		for !c.wake {
			c.sortCond.Wait()
		}
		c.wake = false
		if c.immutable.Load() {
			break
		}

		vecs := c.snapshot()
		last := len(vecs) - 1
		if cursor == last {
			continue
		}
		for ; cursor < last; cursor++ {
			vecs[cursor].seal(c.cmp)
		}
		if len(vecs) > kMergedVectorsMax {
			if c.tryMergeVectors(vecs, last) {
				cursor = 0
			}
		}
	}
	c.sortMu.Unlock()

	for _, v := range c.snapshot() {
		v.seal(c.cmp)
	}
	close(c.drained)
}

// tryMergeVectors looks for a run of at least two small vectors (below
// 75% of capacity) among the sealed prefix [0, last) and folds them
// into one. Returns true when a merge happened.
func (c *vectorContainer) tryMergeVectors(vecs []*sortedVector, last int) bool {
	// rounded up, so a size below it is strictly under 75%
	mergeThreshold := (c.svCapacity*75 + 99) / 100

	start, end := 0, last
	count := 0
	for s := 0; s < last; s++ {
		if vecs[s].size() >= mergeThreshold {
			if count > 1 {
				end = s
				break
			}
			count = 0
			start = s + 1
		} else {
			count++
			if count == kMergedVectorsMax {
				end = s + 1
				break
			}
		}
	}
	if count <= 1 {
		return false
	}
	c.merge(vecs[start:end], start, end)
	return true
}

// merge k-way-merges vectors[start:end] into a single sealed vector and
// swaps it into the container under the write lock. It never touches
// the unsealed tail and is idempotent with respect to entry content.
func (c *vectorContainer) merge(run []*sortedVector, start, end int) {
	total := 0
	for _, v := range run {
		v.seal(c.cmp)
		total += v.size()
	}
	if total == 0 {
		return
	}

	merged := make([][]byte, 0, total)
	h := newCursorHeap(c.cmp, false)
	for _, v := range run {
		if !v.isEmpty() {
			h.push(&svCursor{vec: v})
		}
	}
	for h.len() > 0 {
		top := h.top()
		merged = append(merged, top.key())
		top.idx++
		if top.valid() {
			h.fix(0)
		} else {
			h.pop()
		}
	}

	newVec := newSortedVectorFrom(merged)

	c.rw.Lock()
	tail := append([]*sortedVector{newVec}, c.vectors[end:]...)
	c.vectors = append(c.vectors[:start:start], tail...)
	c.rw.Unlock()
}

// initIterator returns the snapshot of vectors an iterator observes. If
// the container is still mutable a fresh tail is appended (or an empty
// tail reused) so that the snapshot is well-defined.
func (c *vectorContainer) initIterator() []*svCursor {
	if c.immutable.Load() {
		vecs := c.snapshot()
		return makeCursors(vecs)
	}

	notify := false
	c.rw.Lock()
	vecs := c.vectors
	last := len(vecs)
	if !vecs[last-1].isEmpty() {
		c.vectors = append(c.vectors, newSortedVector(c.svCapacity))
		notify = true
	} else {
		last--
	}
	anchors := makeCursors(vecs[:last])
	c.rw.Unlock()

	if notify {
		c.signalSort()
	}
	return anchors
}

func makeCursors(vecs []*sortedVector) []*svCursor {
	anchors := make([]*svCursor, 0, len(vecs))
	for _, v := range vecs {
		anchors = append(anchors, &svCursor{vec: v, idx: -1})
	}
	return anchors
}

// markReadOnly freezes the container and waits for the sort thread to
// drain.
func (c *vectorContainer) markReadOnly() {
	c.readOnly.Do(func() {
		c.immutable.Store(true)
		c.signalSort()
		<-c.drained
	})
}
