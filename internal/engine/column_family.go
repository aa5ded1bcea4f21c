package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hyperdb/pkg/clock"
	"hyperdb/pkg/config"
	"hyperdb/pkg/ikey"
	"hyperdb/pkg/listener"
	"hyperdb/pkg/memtable"
	"hyperdb/pkg/types"
	"hyperdb/pkg/writebuffer"

	"github.com/google/uuid"
)

// FlushSink consumes sealed memtables and turns them into immutable
// sorted runs. The on-disk side is outside the core.
type FlushSink interface {
	Flush(mt *memtable.Memtable) error
}

type flushRequest struct {
	mt           *memtable.Memtable
	size         uint64
	wbmInitiated bool
}

// maxWriteDelay is the per-write pause at delay factor 1; the factor
// scales it linearly.
const maxWriteDelay = 200 * time.Microsecond

// ColumnFamily owns the active memtable of one keyspace, charges every
// insert against the shared write buffer manager, and registers as a
// flush initiator under an opaque owner id so the manager can trigger
// flushes on it.
type ColumnFamily struct {
	name  string
	owner uuid.UUID
	wbm   *writebuffer.Manager
	seq   *clock.Sequence
	cmp   ikey.EntryComparator
	sink  FlushSink
	log   *slog.Logger
	mtCfg memtable.Config

	mu     sync.RWMutex
	mt     *memtable.Memtable
	imms   []*memtable.Memtable // newest last, being flushed
	mtSize atomic.Uint64

	flushCh chan flushRequest
	worker  *listener.Listener[flushRequest]
	closed  atomic.Bool
}

func NewColumnFamily(
	ctx context.Context,
	name string,
	cfg config.MemtableConfig,
	wbm *writebuffer.Manager,
	seq *clock.Sequence,
	sink FlushSink,
	log *slog.Logger,
) *ColumnFamily {
	cf := &ColumnFamily{
		name:  name,
		owner: uuid.New(),
		wbm:   wbm,
		seq:   seq,
		sink:  sink,
		log:   log.With("cf", name),
		mtCfg: memtable.Config{
			BucketCount:    cfg.BucketCount,
			VectorCapacity: cfg.VectorCapacity,
		},
		flushCh: make(chan flushRequest, 4),
	}
	cf.mt = memtable.New(cf.cmp, cf.mtCfg)
	cf.worker = listener.New(cf.flushCh, cf.handleFlush)
	cf.worker.Start(ctx)
	wbm.RegisterFlushInitiator(cf.owner, cf.initiateFlush)
	return cf
}

// Put writes a value under key, applying the manager's stall and delay
// protocol first.
func (cf *ColumnFamily) Put(key, value []byte) error {
	return cf.write(key, value, types.KindValue)
}

// Delete writes a tombstone under key.
func (cf *ColumnFamily) Delete(key []byte) error {
	return cf.write(key, nil, types.KindDeletion)
}

func (cf *ColumnFamily) write(key, value []byte, kind types.KeyKind) error {
	if cf.closed.Load() {
		return fmt.Errorf("column family %q is closed", cf.name)
	}

	if cf.wbm.ShouldStall() {
		cf.log.Debug("write stalled", "used", cf.wbm.MemoryUsage())
		cf.wbm.BeginWriteStall(newStallHandle())
	}
	if df := cf.wbm.DelayFactor(); df > 0 {
		time.Sleep(time.Duration(df * float64(maxWriteDelay)))
	}

	k := ikey.Encode(key, cf.seq.Next(), kind)
	n := ikey.EntryLen(len(k), len(value))

	cf.mu.RLock()
	mt := cf.mt
	h, buf := mt.Allocate(n)
	ikey.PutEntry(buf, k, value)
	ok := mt.Insert(h)
	cf.mu.RUnlock()

	if !ok {
		// same user key and sequence can only be a retry; nothing was
		// charged for it
		return nil
	}
	cf.mtSize.Add(uint64(n))
	cf.wbm.ReserveMem(uint64(n))

	if cf.wbm.ShouldFlush() && cf.wbm.Enabled() {
		cf.FlushNow(false)
	}
	return nil
}

// Get returns the newest value written under key.
func (cf *ColumnFamily) Get(key []byte) ([]byte, bool) {
	lookup := ikey.LookupKey(key, types.MaxSequenceNumber)

	cf.mu.RLock()
	tables := make([]*memtable.Memtable, 0, len(cf.imms)+1)
	tables = append(tables, cf.mt)
	for i := len(cf.imms) - 1; i >= 0; i-- {
		tables = append(tables, cf.imms[i])
	}
	cf.mu.RUnlock()

	for _, mt := range tables {
		var (
			value   []byte
			found   bool
			matched bool
		)
		mt.Get(lookup, func(entry []byte) bool {
			ik, v := ikey.DecodeEntry(entry)
			if !bytes.Equal(ik.UserKey(), key) {
				return false
			}
			matched = true
			found = ik.Kind() == types.KindValue
			if found {
				value = v
			}
			return false
		})
		if matched {
			return value, found
		}
	}
	return nil, false
}

// initiateFlush is the manager's initiator callback. It accepts when
// the active memtable holds at least minSize bytes, switching it out
// and queueing the flush.
func (cf *ColumnFamily) initiateFlush(minSize uint64) bool {
	if cf.closed.Load() {
		return false
	}
	cf.mu.Lock()
	if cf.mtSize.Load() < minSize || cf.mtSize.Load() == 0 {
		cf.mu.Unlock()
		return false
	}
	req := cf.switchMemtableLocked(true)
	cf.mu.Unlock()

	cf.flushCh <- req
	return true
}

// FlushNow switches the active memtable out whenever it holds data, marking
// the flush as externally initiated when wbmInitiated is false.
func (cf *ColumnFamily) FlushNow(wbmInitiated bool) {
	cf.mu.Lock()
	if cf.mtSize.Load() == 0 {
		cf.mu.Unlock()
		return
	}
	req := cf.switchMemtableLocked(wbmInitiated)
	cf.mu.Unlock()

	cf.flushCh <- req
}

// switchMemtableLocked seals the active memtable, schedules its memory
// to free and installs a fresh one. Called with cf.mu held.
func (cf *ColumnFamily) switchMemtableLocked(wbmInitiated bool) flushRequest {
	old := cf.mt
	size := cf.mtSize.Load()
	cf.wbm.ScheduleFreeMem(size)
	cf.imms = append(cf.imms, old)
	cf.mt = memtable.New(cf.cmp, cf.mtCfg)
	cf.mtSize.Store(0)
	return flushRequest{mt: old, size: size, wbmInitiated: wbmInitiated}
}

// handleFlush runs on the flush worker. An error from the sink aborts
// the reclamation; the memory stays accounted as live.
func (cf *ColumnFamily) handleFlush(req flushRequest) error {
	cf.wbm.FlushStarted(req.wbmInitiated)
	cf.wbm.FreeMemBegin(req.size)
	req.mt.MarkReadOnly()

	err := cf.sink.Flush(req.mt)

	cf.mu.Lock()
	for i, mt := range cf.imms {
		if mt == req.mt {
			cf.imms = append(cf.imms[:i], cf.imms[i+1:]...)
			break
		}
	}
	cf.mu.Unlock()

	if err != nil {
		cf.wbm.FreeMemAborted(req.size)
		cf.wbm.FlushEnded(req.wbmInitiated)
		return fmt.Errorf("flush of %q failed: %w", cf.name, err)
	}
	cf.wbm.FreeMem(req.size)
	cf.wbm.FlushEnded(req.wbmInitiated)
	return nil
}

// Close deregisters the initiator, stops the flush worker and flushes
// whatever is left inline.
func (cf *ColumnFamily) Close() {
	if cf.closed.Swap(true) {
		return
	}
	cf.wbm.DeregisterFlushInitiator(cf.owner)
	cf.worker.Stop()

	for {
		select {
		case req := <-cf.flushCh:
			if err := cf.handleFlush(req); err != nil {
				cf.log.Error("flush on close failed", "err", err)
			}
			continue
		default:
		}
		break
	}

	cf.mu.Lock()
	var req flushRequest
	pending := cf.mtSize.Load() > 0
	if pending {
		req = cf.switchMemtableLocked(false)
	}
	cf.mu.Unlock()
	if pending {
		if err := cf.handleFlush(req); err != nil {
			cf.log.Error("flush on close failed", "err", err)
		}
	}
}
