package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hyperdb/pkg/clock"
	"hyperdb/pkg/compaction"
	"hyperdb/pkg/config"
	"hyperdb/pkg/writebuffer"
)

// Engine wires the core subsystems together: one write buffer manager
// shared by every column family, one hybrid compaction picker and one
// version state per column family.
type Engine struct {
	cfg config.Config
	log *slog.Logger
	wbm *writebuffer.Manager
	seq *clock.Sequence

	mu  sync.Mutex
	cfs map[string]*cfState
}

type cfState struct {
	cf       *ColumnFamily
	picker   *compaction.Picker
	vstorage *compaction.VersionStorageInfo
}

func New(cfg config.Config, cache writebuffer.CacheReservation, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	wbm := writebuffer.NewManager(writebuffer.Options{
		BufferSize:         cfg.WriteBuffer.BufferSizeBytes,
		AllowStall:         cfg.WriteBuffer.AllowStall,
		InitiateFlushes:    cfg.WriteBuffer.InitiateFlushes,
		MaxParallelFlushes: cfg.WriteBuffer.MaxParallelFlushes,
		Logger:             log,
	}, cache)
	return &Engine{
		cfg: cfg,
		log: log,
		wbm: wbm,
		seq: clock.NewSequence(0),
		cfs: make(map[string]*cfState),
	}
}

// WriteBufferManager exposes the shared manager.
func (e *Engine) WriteBufferManager() *writebuffer.Manager { return e.wbm }

// OpenColumnFamily creates a column family whose flushes land in sink.
func (e *Engine) OpenColumnFamily(ctx context.Context, name string, sink FlushSink) (*ColumnFamily, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cfs[name]; ok {
		return nil, fmt.Errorf("column family %q already open", name)
	}

	cf := NewColumnFamily(ctx, name, e.cfg.Memtable, e.wbm, e.seq, sink, e.log)
	e.cfs[name] = &cfState{
		cf: cf,
		picker: compaction.NewPicker(compaction.Options{
			NumLevels:                      e.cfg.Compaction.NumLevels,
			WriteBufferSize:                e.cfg.Compaction.WriteBufferSizeBytes,
			SpaceAmpPercent:                e.cfg.Compaction.SpaceAmpPercent,
			MinMergeWidth:                  e.cfg.Compaction.MinMergeWidth,
			Level0FileNumCompactionTrigger: e.cfg.Compaction.Level0Trigger,
			MaxOpenFiles:                   e.cfg.Compaction.MaxOpenFiles,
			TablePrefixSize:                e.cfg.Compaction.TablePrefixSize,
			Logger:                         e.log,
		}),
		vstorage: compaction.NewVersionStorageInfo(e.cfg.Compaction.NumLevels),
	}
	return cf, nil
}

// RecordFlushedFile installs a freshly flushed run into level 0 of the
// column family's version state.
func (e *Engine) RecordFlushedFile(name string, f *compaction.FileMetadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.cfs[name]
	if !ok {
		return fmt.Errorf("column family %q not open", name)
	}
	st.vstorage.AddFile(0, f)
	return nil
}

// PickCompaction asks the column family's picker for the next unit of
// work. Trivial moves are applied to the version state immediately;
// anything else is handed to the caller's worker pool, which reports
// back through FinishCompaction.
func (e *Engine) PickCompaction(name string) (*compaction.Compaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.cfs[name]
	if !ok {
		return nil, fmt.Errorf("column family %q not open", name)
	}

	c := st.picker.PickCompaction(name, st.vstorage)
	if c == nil {
		return nil, nil
	}
	if c.TrivialMove {
		e.applyTrivialMove(st, c)
		st.picker.UnregisterCompaction(c)
		return nil, nil
	}
	return c, nil
}

// FinishCompaction removes a compaction from the running set once the
// worker pool is done with it.
func (e *Engine) FinishCompaction(name string, c *compaction.Compaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.cfs[name]; ok {
		st.picker.UnregisterCompaction(c)
	}
}

// applyTrivialMove relocates the input files to the output level
// without rewriting them.
func (e *Engine) applyTrivialMove(st *cfState, c *compaction.Compaction) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			st.vstorage.RemoveFile(in.Level, f.Number)
			st.vstorage.AddFile(c.OutputLevel, f)
		}
	}
	e.log.Info("trivial move applied",
		"start_level", c.StartLevel(), "output_level", c.OutputLevel)
}

// Close shuts every column family down and terminates the manager's
// initiation thread.
func (e *Engine) Close() {
	e.mu.Lock()
	cfs := make([]*cfState, 0, len(e.cfs))
	for _, st := range e.cfs {
		cfs = append(cfs, st)
	}
	e.mu.Unlock()

	for _, st := range cfs {
		st.cf.Close()
	}
	e.wbm.Close()
}
