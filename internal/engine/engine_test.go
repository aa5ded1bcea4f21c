package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"hyperdb/pkg/compaction"
	"hyperdb/pkg/config"
	"hyperdb/pkg/memtable"
)

type memorySink struct {
	mu      sync.Mutex
	flushed []*memtable.Memtable
	fail    bool
}

func (s *memorySink) Flush(mt *memtable.Memtable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.flushed = append(s.flushed, mt)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flushed)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Memtable.BucketCount = 1 << 10
	cfg.Memtable.VectorCapacity = 256
	cfg.WriteBuffer = config.WriteBufferConfig{
		BufferSizeBytes:    64 * 1024,
		AllowStall:         false,
		InitiateFlushes:    true,
		MaxParallelFlushes: 4,
	}
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	sink := &memorySink{}
	cf, err := e.OpenColumnFamily(context.Background(), "default", sink)
	if err != nil {
		t.Fatal(err)
	}

	if err := cf.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := cf.Put([]byte("k1"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	got, ok := cf.Get([]byte("k1"))
	if !ok || string(got) != "v2" {
		t.Fatalf("Get returned %q/%v, want v2", got, ok)
	}
	if _, ok := cf.Get([]byte("missing")); ok {
		t.Fatal("missing key should not be found")
	}
}

func TestDeleteHidesOlderValues(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	cf, err := e.OpenColumnFamily(context.Background(), "default", &memorySink{})
	if err != nil {
		t.Fatal(err)
	}

	if err := cf.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := cf.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, ok := cf.Get([]byte("k")); ok {
		t.Fatal("a tombstone must hide earlier values")
	}
}

func TestWBMInitiatedFlush(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	sink := &memorySink{}
	cf, err := e.OpenColumnFamily(context.Background(), "default", sink)
	if err != nil {
		t.Fatal(err)
	}

	// push usage over 80% of the 64 KiB buffer
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%06d", i)
		if err := cf.Put([]byte(key), []byte("some-payload-data")); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return sink.count() > 0 },
		"the write buffer manager never initiated a flush")

	wbm := e.WriteBufferManager()
	waitFor(t, 5*time.Second, func() bool {
		return wbm.MutableMemtableMemoryUsage() < wbm.BufferSize()
	}, "flushing did not bring mutable usage down")
}

func TestExternallyInitiatedFlush(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBuffer.InitiateFlushes = false
	cfg.WriteBuffer.BufferSizeBytes = 32 * 1024
	e := New(cfg, nil, slog.Default())
	defer e.Close()

	sink := &memorySink{}
	cf, err := e.OpenColumnFamily(context.Background(), "default", sink)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%06d", i)
		if err := cf.Put([]byte(key), []byte("payload")); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return sink.count() > 0 },
		"ShouldFlush never drove a memtable switch")
}

func TestStalledWritersMakeProgress(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBuffer.BufferSizeBytes = 16 * 1024
	cfg.WriteBuffer.AllowStall = true
	e := New(cfg, nil, slog.Default())
	defer e.Close()

	cf, err := e.OpenColumnFamily(context.Background(), "default", &memorySink{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 4)
	for w := 0; w < 4; w++ {
		go func(w int) {
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("w%d-%05d", w, i)
				if err := cf.Put([]byte(key), []byte("stall-payload")); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(w)
	}

	for i := 0; i < 4; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(30 * time.Second):
			t.Fatal("writers deadlocked under stall pressure")
		}
	}
}

func TestFlushFailureKeepsMemoryAccounted(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	sink := &memorySink{fail: true}
	cf, err := e.OpenColumnFamily(context.Background(), "fragile", sink)
	if err != nil {
		t.Fatal(err)
	}

	if err := cf.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	used := e.WriteBufferManager().MemoryUsage()
	if used == 0 {
		t.Fatal("the write should have been charged")
	}

	cf.FlushNow(false)
	waitFor(t, 5*time.Second, func() bool {
		return e.WriteBufferManager().ImmutableMemtableMemoryUsage() == 0
	}, "the aborted flush never settled")

	if got := e.WriteBufferManager().MemoryUsage(); got != used {
		t.Fatalf("an aborted flush must keep the memory accounted: %d != %d", got, used)
	}
	if e.WriteBufferManager().ImmutableMemtableMemoryUsage() != 0 {
		t.Fatal("aborted bytes count as live again")
	}
}

func TestEngineCompactionWiring(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	if _, err := e.OpenColumnFamily(context.Background(), "default", &memorySink{}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		err := e.RecordFlushedFile("default", &compaction.FileMetadata{
			Number:   uint64(i + 1),
			Size:     1 << 20,
			Smallest: []byte(fmt.Sprintf("a%d", i)),
			Largest:  []byte(fmt.Sprintf("z%d", i)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	c, err := e.PickCompaction("default")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("four L0 files at the default trigger should compact")
	}
	if c.StartLevel() != 0 {
		t.Fatalf("expected an L0 compaction, got start level %d", c.StartLevel())
	}
	e.FinishCompaction("default", c)

	if _, err := e.PickCompaction("missing"); err == nil {
		t.Fatal("picking on an unknown column family must error")
	}
}

func TestOpenColumnFamilyTwice(t *testing.T) {
	e := New(testConfig(), nil, slog.Default())
	defer e.Close()

	if _, err := e.OpenColumnFamily(context.Background(), "dup", &memorySink{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.OpenColumnFamily(context.Background(), "dup", &memorySink{}); err == nil {
		t.Fatal("opening the same column family twice must error")
	}
}
