package writebuffer

import (
	"sync"
	"testing"
	"time"

	"hyperdb/pkg/metrics"

	"github.com/zhangyunhao116/fastrand"
)

const mib = 1 << 20

func newTestManager(opts Options, cache CacheReservation) *Manager {
	m := NewManager(opts, cache)
	return m
}

func checkCounters(t *testing.T, m *Manager) {
	t.Helper()
	used := m.MemoryUsage()
	inactive := m.ImmutableMemtableMemoryUsage()
	beingFreed := m.MemtableMemoryBeingFreed()
	if beingFreed > inactive {
		t.Fatalf("beingFreed %d > inactive %d", beingFreed, inactive)
	}
	if inactive > used {
		t.Fatalf("inactive %d > used %d", inactive, used)
	}
}

func TestBalancedLifecycleReturnsToZero(t *testing.T) {
	m := newTestManager(Options{BufferSize: 64 * mib}, nil)

	sizes := make([]uint64, 50)
	for i := range sizes {
		sizes[i] = uint64(fastrand.Uint32n(mib)) + 1
		m.ReserveMem(sizes[i])
		checkCounters(t, m)
	}
	for _, s := range sizes {
		m.ScheduleFreeMem(s)
		checkCounters(t, m)
	}
	for _, s := range sizes {
		m.FreeMemBegin(s)
		checkCounters(t, m)
	}
	for _, s := range sizes {
		m.FreeMem(s)
		checkCounters(t, m)
	}

	if m.MemoryUsage() != 0 || m.ImmutableMemtableMemoryUsage() != 0 || m.MemtableMemoryBeingFreed() != 0 {
		t.Fatalf("counters did not return to zero: used=%d inactive=%d beingFreed=%d",
			m.MemoryUsage(), m.ImmutableMemtableMemoryUsage(), m.MemtableMemoryBeingFreed())
	}
}

func TestFreeMemAbortedEquivalence(t *testing.T) {
	run := func(abortFirst bool) (uint64, uint64, uint64) {
		m := newTestManager(Options{BufferSize: 64 * mib}, nil)
		m.ReserveMem(4 * mib)
		m.ScheduleFreeMem(4 * mib)
		if abortFirst {
			m.FreeMemBegin(4 * mib)
			m.FreeMemAborted(4 * mib)
			m.ScheduleFreeMem(4 * mib)
		}
		m.FreeMemBegin(4 * mib)
		m.FreeMem(4 * mib)
		return m.MemoryUsage(), m.ImmutableMemtableMemoryUsage(), m.MemtableMemoryBeingFreed()
	}

	u1, i1, b1 := run(false)
	u2, i2, b2 := run(true)
	if u1 != u2 || i1 != i2 || b1 != b2 {
		t.Fatalf("abort+retry diverged from plain free: (%d,%d,%d) vs (%d,%d,%d)",
			u1, i1, b1, u2, i2, b2)
	}
}

func TestMutableMemoryUsage(t *testing.T) {
	m := newTestManager(Options{BufferSize: 64 * mib}, nil)
	m.ReserveMem(10 * mib)
	m.ScheduleFreeMem(4 * mib)

	if got := m.MutableMemtableMemoryUsage(); got != 6*mib {
		t.Fatalf("mutable usage = %d, want %d", got, 6*mib)
	}
}

func TestDisabledManager(t *testing.T) {
	m := newTestManager(Options{BufferSize: 0, AllowStall: true}, nil)

	if m.Enabled() {
		t.Fatal("buffer size 0 must disable the manager")
	}
	if !m.ShouldFlush() {
		t.Fatal("disabled manager should always ask for a flush")
	}
	if m.ShouldStall() {
		t.Fatal("disabled manager must never stall")
	}

	// must not crash nor count
	m.ReserveMem(mib)
	m.ScheduleFreeMem(mib)
	m.FreeMemBegin(mib)
	m.FreeMem(mib)
	if m.MemoryUsage() != 0 {
		t.Fatalf("disabled manager tracked %d bytes without a cache", m.MemoryUsage())
	}
}

func TestShouldFlushNonInitiating(t *testing.T) {
	m := newTestManager(Options{BufferSize: 8 * mib}, nil)

	if m.ShouldFlush() {
		t.Fatal("empty manager should not ask for a flush")
	}
	m.ReserveMem(7*mib + mib/2) // above the 7/8 mutable limit
	if !m.ShouldFlush() {
		t.Fatal("usage above the mutable limit should ask for a flush")
	}

	// beyond the buffer but with most memory already on its way out
	m.ReserveMem(mib)
	m.ScheduleFreeMem(8 * mib)
	if m.ShouldFlush() {
		t.Fatal("flushing more helps nothing when the memory is already scheduled")
	}
}

type testStallHandle struct {
	ch chan struct{}
}

func newTestStallHandle() *testStallHandle {
	return &testStallHandle{ch: make(chan struct{}, 1)}
}

func (h *testStallHandle) Block()  { <-h.ch }
func (h *testStallHandle) Signal() {
	select {
	case h.ch <- struct{}{}:
	default:
	}
}

func TestStallBlocksUntilMemoryFreed(t *testing.T) {
	m := newTestManager(Options{BufferSize: mib, AllowStall: true}, nil)
	m.ReserveMem(mib)

	if !m.ShouldStall() {
		t.Fatal("usage at the buffer size should stall")
	}

	released := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.BeginWriteStall(newTestStallHandle())
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("writer should stay blocked while memory is full")
	case <-time.After(50 * time.Millisecond):
	}

	m.ScheduleFreeMem(mib)
	m.FreeMemBegin(mib)
	m.FreeMem(mib)
	m.MaybeEndWriteStall()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not released after the memory was freed")
	}
	wg.Wait()

	if m.IsStallActive() {
		t.Fatal("stall should be inactive after release")
	}
}

func TestRemoveDBReleasesHandle(t *testing.T) {
	m := newTestManager(Options{BufferSize: mib, AllowStall: true}, nil)
	m.ReserveMem(mib)

	h := newTestStallHandle()
	released := make(chan struct{})
	go func() {
		m.BeginWriteStall(h)
		close(released)
	}()

	time.Sleep(50 * time.Millisecond)
	m.RemoveDB(h)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("RemoveDB should release the parked handle")
	}
}

func TestSetBufferSizeEndsStall(t *testing.T) {
	m := newTestManager(Options{BufferSize: mib, AllowStall: true}, nil)
	m.ReserveMem(mib)

	released := make(chan struct{})
	go func() {
		m.BeginWriteStall(newTestStallHandle())
		close(released)
	}()
	time.Sleep(50 * time.Millisecond)

	m.SetBufferSize(4 * mib)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("raising the buffer size should end the stall")
	}
}

func TestDelayFactor(t *testing.T) {
	m := newTestManager(Options{BufferSize: 10 * mib}, nil)

	if df := m.DelayFactor(); df != 0 {
		t.Fatalf("empty manager should not delay, got %v", df)
	}
	m.ReserveMem(7 * mib)
	if df := m.DelayFactor(); df != 0 {
		t.Fatalf("below the start threshold the delay must be zero, got %v", df)
	}
	m.ReserveMem(2 * mib) // 9 MiB of 10
	df := m.DelayFactor()
	if df <= 0 || df >= 1 {
		t.Fatalf("delay factor at 90%% should be inside (0,1), got %v", df)
	}
	m.ReserveMem(mib)
	if df := m.DelayFactor(); df != 1 {
		t.Fatalf("delay factor at the buffer size should be 1, got %v", df)
	}
}

func TestUsageGaugesPublished(t *testing.T) {
	mc := metrics.NewAtomicCollector()
	m := newTestManager(Options{BufferSize: 64 * mib, Metrics: mc}, nil)

	m.ReserveMem(3 * mib)
	if got := mc.Gauge("write_buffer_memory_used", nil); got != float64(3*mib) {
		t.Fatalf("used gauge = %v, want %v", got, float64(3*mib))
	}
	m.ScheduleFreeMem(mib)
	m.FreeMemBegin(mib)
	m.FreeMem(mib)
	if got := mc.Gauge("write_buffer_memory_used", nil); got != float64(2*mib) {
		t.Fatalf("used gauge after free = %v, want %v", got, float64(2*mib))
	}
}

type fakeCache struct {
	mu       sync.Mutex
	reserved uint64
	updates  int
}

func (c *fakeCache) UpdateReservation(total uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = total
	c.updates++
	return nil
}

func (c *fakeCache) Reserved() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved
}

func TestCacheMirroring(t *testing.T) {
	cache := &fakeCache{}
	m := newTestManager(Options{BufferSize: 64 * mib}, cache)

	m.ReserveMem(100 * 1024)
	if got := m.DummyEntriesInCacheUsage(); got != cacheReservationStep {
		t.Fatalf("cache charge should round up to one step, got %d", got)
	}

	// growing inside the same step must not touch the cache again
	before := cache.updates
	m.ReserveMem(50 * 1024)
	if cache.updates != before {
		t.Fatal("reservation resized inside a step")
	}

	m.ReserveMem(200 * 1024)
	if got := m.DummyEntriesInCacheUsage(); got != 2*cacheReservationStep {
		t.Fatalf("cache charge should grow to two steps, got %d", got)
	}

	m.ScheduleFreeMem(350 * 1024)
	m.FreeMemBegin(350 * 1024)
	m.FreeMem(350 * 1024)
	if got := m.DummyEntriesInCacheUsage(); got != 0 {
		t.Fatalf("cache charge should be trimmed on free, got %d", got)
	}
}

func TestDisabledManagerStillChargesCache(t *testing.T) {
	cache := &fakeCache{}
	m := newTestManager(Options{BufferSize: 0}, cache)

	m.ReserveMem(mib)
	if m.MemoryUsage() != mib {
		t.Fatal("with a cache attached, used must be tracked even when disabled")
	}
	if m.DummyEntriesInCacheUsage() == 0 {
		t.Fatal("cache should be charged even when disabled")
	}
	m.FreeMem(mib)
	if m.DummyEntriesInCacheUsage() != 0 {
		t.Fatal("cache should be released even when disabled")
	}
}
