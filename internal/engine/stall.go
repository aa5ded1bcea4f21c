package engine

import "sync"

// dbStallHandle parks a writer on a condition variable. It is
// level-triggered: a Signal delivered before Block still releases the
// next Block, which the write buffer manager's stall protocol relies
// on.
type dbStallHandle struct {
	mu        sync.Mutex
	cond      *sync.Cond
	signalled bool
}

func newStallHandle() *dbStallHandle {
	h := &dbStallHandle{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *dbStallHandle) Block() {
	h.mu.Lock()
	for !h.signalled {
		h.cond.Wait()
	}
	h.signalled = false
	h.mu.Unlock()
}

func (h *dbStallHandle) Signal() {
	h.mu.Lock()
	h.signalled = true
	h.cond.Broadcast()
	h.mu.Unlock()
}
