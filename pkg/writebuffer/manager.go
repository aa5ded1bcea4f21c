package writebuffer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"hyperdb/pkg/metrics"

	"github.com/google/uuid"
)

// startFlushPercentThreshold is the usage percent of the buffer size at
// which write delays and flush initiation begin.
const startFlushPercentThreshold = 80

// Options configures a Manager.
//
// BufferSize = 0 disables the manager: memory usage is tracked only
// when a cache is attached, ShouldFlush always reports true and stalls
// never engage.
type Options struct {
	BufferSize         uint64
	AllowStall         bool
	InitiateFlushes    bool
	MaxParallelFlushes int

	Logger  *slog.Logger
	Metrics metrics.Collector
}

// Manager accounts in-memory write-buffer usage across one or more
// database instances, initiates flushes once accounting crosses its
// thresholds, and applies delays and stalls to writers.
//
// Counter invariant at every snapshot: 0 <= beingFreed <= inactive <=
// used, and mutable usage is used - inactive.
type Manager struct {
	bufferSize   atomic.Uint64
	mutableLimit atomic.Uint64

	used       atomic.Uint64 // bytes charged
	inactive   atomic.Uint64 // bytes scheduled to free
	beingFreed atomic.Uint64 // bytes whose reclamation is in progress

	cache   CacheReservation
	cacheMu sync.Mutex // protects cache reservation updates only

	allowStall  bool
	stallActive atomic.Bool
	queueMu     sync.Mutex // protects queue and stallActive transitions
	queue       []StallHandle

	initiateFlushes    bool
	maxParallelFlushes int

	log *slog.Logger
	mc  metrics.Collector

	// flush initiation state, see initiation.go
	flushesMu        sync.Mutex
	flushesCond      *sync.Cond
	newFlushesWakeup bool
	terminateThread  bool
	threadStart      sync.Once
	threadDone       chan struct{}

	numRunningFlushes    int
	numFlushesToInitiate int
	nextCandidateIdx     int

	flushInitiationStartSize      uint64
	additionalFlushStepSize       uint64
	additionalFlushInitiationSize atomic.Uint64
	minFlushSize                  uint64

	initiatorsMu sync.Mutex
	initiators   []initiatorInfo
}

type initiatorInfo struct {
	owner uuid.UUID
	cb    InitiateFlushRequestFunc
}

func NewManager(opts Options, cache CacheReservation) *Manager {
	if opts.MaxParallelFlushes <= 0 {
		opts.MaxParallelFlushes = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		cache:              cache,
		allowStall:         opts.AllowStall,
		initiateFlushes:    opts.InitiateFlushes,
		maxParallelFlushes: opts.MaxParallelFlushes,
		log:                opts.Logger,
		mc:                 opts.Metrics,
		threadDone:         make(chan struct{}),
	}
	m.flushesCond = sync.NewCond(&m.flushesMu)
	m.SetBufferSize(opts.BufferSize)
	return m
}

// Enabled reports whether a buffer limit is in force.
func (m *Manager) Enabled() bool { return m.BufferSize() > 0 }

// CostToCache reports whether a cache is attached.
func (m *Manager) CostToCache() bool { return m.cache != nil }

// BufferSize returns the configured limit.
func (m *Manager) BufferSize() uint64 { return m.bufferSize.Load() }

// MemoryUsage returns the total memory charged by memtables. Only valid
// when enabled or a cache is attached.
func (m *Manager) MemoryUsage() uint64 { return m.used.Load() }

// MutableMemtableMemoryUsage returns the memory charged by active
// memtables.
func (m *Manager) MutableMemtableMemoryUsage() uint64 {
	total := m.used.Load()
	inactive := m.inactive.Load()
	if inactive >= total {
		return 0
	}
	return total - inactive
}

// ImmutableMemtableMemoryUsage returns the memory scheduled to free.
func (m *Manager) ImmutableMemtableMemoryUsage() uint64 { return m.inactive.Load() }

// MemtableMemoryBeingFreed returns the memory whose reclamation is in
// progress.
func (m *Manager) MemtableMemoryBeingFreed() uint64 { return m.beingFreed.Load() }

// DummyEntriesInCacheUsage returns the bytes currently reserved in the
// attached cache.
func (m *Manager) DummyEntriesInCacheUsage() uint64 {
	if m.cache == nil {
		return 0
	}
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.cache.Reserved()
}

// SetBufferSize retunes the limit and the flush thresholds and may end
// an active stall.
//
// The inactive and beingFreed counters are not maintained while the
// manager is disabled, and used is maintained only when enabled or a
// cache is attached; switching between disabled and enabled at runtime
// leaves the counters invalid for one transition.
func (m *Manager) SetBufferSize(n uint64) {
	m.bufferSize.Store(n)
	m.mutableLimit.Store(n * 7 / 8)
	m.MaybeEndWriteStall()
	if n > 0 && m.initiateFlushes {
		m.initFlushInitiationVars(n)
	}
}

// ReserveMem grows used by mem, mirroring into the cache when one is
// attached.
func (m *Manager) ReserveMem(mem uint64) {
	var newUsed uint64
	switch {
	case m.cache != nil:
		newUsed = m.reserveMemWithCache(mem)
	case m.Enabled():
		newUsed = m.used.Add(mem)
	default:
		return
	}
	m.publishUsage()
	if m.Enabled() && m.initiateFlushes {
		m.reevaluateNeedForMoreFlushes(newUsed)
	}
}

func (m *Manager) reserveMemWithCache(mem uint64) uint64 {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	newUsed := m.used.Add(mem)
	target := roundUpToStep(newUsed)
	if target > m.cache.Reserved() {
		if err := m.cache.UpdateReservation(target); err != nil {
			// Cache charging is best effort; the accounting itself
			// stays correct.
			m.log.Warn("write buffer cache reservation failed",
				"target", target, "err", err)
		}
	}
	return newUsed
}

// ScheduleFreeMem marks mem bytes as scheduled to free. It never
// decreases used.
func (m *Manager) ScheduleFreeMem(mem uint64) {
	if m.Enabled() {
		m.inactive.Add(mem)
	}
}

// FreeMemBegin records that freeing mem bytes has actually started. The
// same bytes must have been scheduled beforehand.
func (m *Manager) FreeMemBegin(mem uint64) {
	if m.Enabled() {
		m.beingFreed.Add(mem)
	}
}

// FreeMemAborted undoes FreeMemBegin and the matching schedule; the
// bytes are considered live again.
func (m *Manager) FreeMemAborted(mem uint64) {
	if m.Enabled() {
		sub(&m.inactive, mem)
		sub(&m.beingFreed, mem)
	}
}

// FreeMem completes freeing mem bytes, trimming the cache reservation
// when one is attached, and may end an active stall.
func (m *Manager) FreeMem(mem uint64) {
	if m.Enabled() {
		sub(&m.inactive, mem)
		sub(&m.beingFreed, mem)
	}
	var newUsed uint64
	switch {
	case m.cache != nil:
		newUsed = m.freeMemWithCache(mem)
	case m.Enabled():
		newUsed = sub(&m.used, mem)
	default:
		return
	}
	m.publishUsage()
	m.MaybeEndWriteStall()
	if m.Enabled() && m.initiateFlushes {
		m.reevaluateNeedForMoreFlushes(newUsed)
	}
}

func (m *Manager) freeMemWithCache(mem uint64) uint64 {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	newUsed := sub(&m.used, mem)
	target := roundUpToStep(newUsed)
	if target < m.cache.Reserved() {
		if err := m.cache.UpdateReservation(target); err != nil {
			m.log.Warn("write buffer cache release failed",
				"target", target, "err", err)
		}
	}
	return newUsed
}

// ShouldFlush reports whether the caller should flush a memtable. In
// initiating mode the manager drives flushes itself and callers are
// told not to; with no limit configured it always reports true.
func (m *Manager) ShouldFlush() bool {
	if !m.Enabled() {
		return true
	}
	if m.initiateFlushes {
		return false
	}
	if m.MutableMemtableMemoryUsage() > m.mutableLimit.Load() {
		return true
	}
	// Usage beyond the buffer calls for a more aggressive flush, but
	// only while less than half the memory is already on its way out.
	bs := m.BufferSize()
	return m.MemoryUsage() >= bs && m.MutableMemtableMemoryUsage() >= bs/2
}

func (m *Manager) publishUsage() {
	if m.mc == nil {
		return
	}
	m.mc.SetGauge("write_buffer_memory_used", nil, float64(m.used.Load()))
	m.mc.SetGauge("write_buffer_memory_inactive", nil, float64(m.inactive.Load()))
}

// sub subtracts v from c and returns the new value.
func sub(c *atomic.Uint64, v uint64) uint64 {
	return c.Add(^(v - 1))
}
