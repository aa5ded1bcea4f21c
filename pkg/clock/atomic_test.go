package clock

import (
	"sync"
	"testing"
)

func TestSequenceMonotonic(t *testing.T) {
	s := NewSequence(10)
	if s.Val() != 10 {
		t.Fatalf("initial value = %d, want 10", s.Val())
	}
	if s.Next() != 11 || s.Next() != 12 {
		t.Fatal("Next must increment by one")
	}
	s.Set(100)
	if s.Val() != 100 {
		t.Fatal("Set did not take")
	}
}

func TestSequenceConcurrentUnique(t *testing.T) {
	s := NewSequence(0)
	const workers, perWorker = 8, 1000

	seen := make([]map[uint64]bool, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		seen[w] = make(map[uint64]bool, perWorker)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seen[w][uint64(s.Next())] = true
			}
		}(w)
	}
	wg.Wait()

	all := make(map[uint64]bool, workers*perWorker)
	for _, m := range seen {
		for v := range m {
			if all[v] {
				t.Fatalf("sequence %d issued twice", v)
			}
			all[v] = true
		}
	}
	if len(all) != workers*perWorker {
		t.Fatalf("expected %d unique sequences, got %d", workers*perWorker, len(all))
	}
}
