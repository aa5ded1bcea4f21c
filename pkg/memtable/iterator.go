package memtable

import "hyperdb/pkg/iterator"

// svCursor is a per-vector position owned by an iterator or a merge.
type svCursor struct {
	vec *sortedVector
	idx int
}

func (c *svCursor) valid() bool {
	return c.idx >= 0 && c.idx < len(c.vec.items)
}

func (c *svCursor) key() []byte { return c.vec.items[c.idx] }

// cursorHeap is a binary heap of vector cursors ordered by their
// current entry: a min-heap for forward iteration, a max-heap for
// reverse.
type cursorHeap struct {
	cmp     KeyComparator
	reverse bool
	items   []*svCursor
}

func newCursorHeap(cmp KeyComparator, reverse bool) *cursorHeap {
	return &cursorHeap{cmp: cmp, reverse: reverse}
}

func (h *cursorHeap) len() int       { return len(h.items) }
func (h *cursorHeap) top() *svCursor { return h.items[0] }

func (h *cursorHeap) reset(rev bool) {
	h.items = h.items[:0]
	h.reverse = rev
}

func (h *cursorHeap) less(i, j int) bool {
	r := h.cmp.Compare(h.items[i].key(), h.items[j].key())
	if h.reverse {
		return r > 0
	}
	return r < 0
}

func (h *cursorHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *cursorHeap) push(c *svCursor) {
	h.items = append(h.items, c)
	// swim up
	for n := len(h.items) - 1; n > 0; {
		k := (n - 1) / 2
		if !h.less(n, k) {
			break
		}
		h.swap(n, k)
		n = k
	}
}

func (h *cursorHeap) pop() *svCursor {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if last > 0 {
		h.fix(0)
	}
	return top
}

// fix sinks the element at i after its key changed.
func (h *cursorHeap) fix(i int) {
	for n := i; ; {
		k := 2*n + 1
		if k >= len(h.items) {
			break
		}
		if k+1 < len(h.items) && h.less(k+1, k) {
			k++
		}
		if !h.less(k, n) {
			break
		}
		h.swap(n, k)
		n = k
	}
}

// vectorIterator owns per-vector cursors in a comparator-ordered heap.
// Seek targets are bare internal keys; Key returns the full encoded
// entry. Seeks propagate through each vector's binary search; direction
// switches re-seek every cursor at the current entry.
type vectorIterator struct {
	cont    *vectorContainer
	cmp     KeyComparator
	anchors []*svCursor
	heap    *cursorHeap
	forward bool
}

func newVectorIterator(cont *vectorContainer, cmp KeyComparator) *vectorIterator {
	return &vectorIterator{
		cont:    cont,
		cmp:     cmp,
		anchors: cont.initIterator(),
		heap:    newCursorHeap(cmp, false),
	}
}

func (it *vectorIterator) seekAll(key []byte, forward bool) {
	it.forward = forward
	it.heap.reset(!forward)
	for _, a := range it.anchors {
		if a.vec.seal(it.cmp) {
			a.idx = a.vec.seek(it.cmp, key, forward)
			if a.valid() {
				it.heap.push(a)
			}
		}
	}
}

func (it *vectorIterator) Valid() bool { return it.heap.len() > 0 }

func (it *vectorIterator) Key() []byte { return it.heap.top().key() }

func (it *vectorIterator) SeekToFirst() { it.seekAll(nil, true) }

func (it *vectorIterator) SeekToLast() { it.seekAll(nil, false) }

func (it *vectorIterator) Seek(target []byte) { it.seekAll(target, true) }

func (it *vectorIterator) SeekForPrev(target []byte) { it.seekAll(target, false) }

func (it *vectorIterator) Next() {
	if !it.Valid() {
		return
	}
	if !it.forward {
		// switch direction: land back on the current entry, forward
		cur := it.currentKey()
		it.seekAll(cur, true)
		if !it.Valid() {
			return
		}
	}
	it.advance()
}

func (it *vectorIterator) Prev() {
	if !it.Valid() {
		return
	}
	if it.forward {
		cur := it.currentKey()
		it.seekAll(cur, false)
		if !it.Valid() {
			return
		}
	}
	it.advance()
}

// advance steps the top cursor one entry in the iteration direction and
// restores the heap.
func (it *vectorIterator) advance() {
	top := it.heap.top()
	if it.forward {
		top.idx++
	} else {
		top.idx--
	}
	if top.valid() {
		it.heap.fix(0)
	} else {
		it.heap.pop()
	}
}

// currentKey returns the bare internal key of the current entry, the
// target a direction switch re-seeks at.
func (it *vectorIterator) currentKey() []byte {
	return it.cmp.InternalKey(it.Key())
}

var _ iterator.Iterator = (*vectorIterator)(nil)

// emptyIterator is returned for an empty memtable.
type emptyIterator struct{}

func (emptyIterator) Valid() bool        { return false }
func (emptyIterator) SeekToFirst()       {}
func (emptyIterator) SeekToLast()        {}
func (emptyIterator) Seek([]byte)        {}
func (emptyIterator) SeekForPrev([]byte) {}
func (emptyIterator) Next()              {}
func (emptyIterator) Prev()              {}
func (emptyIterator) Key() []byte        { return nil }
