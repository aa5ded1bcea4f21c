package arena

import "testing"

func TestAllocateDoesNotMove(t *testing.T) {
	a := New()
	first := a.Allocate(8)
	copy(first, "12345678")

	// force more chunks
	for i := 0; i < 1000; i++ {
		buf := a.Allocate(16 * 1024)
		buf[0] = byte(i)
	}

	if string(first) != "12345678" {
		t.Fatal("earlier allocation was clobbered")
	}
}

func TestOversizedAllocation(t *testing.T) {
	a := New()
	big := a.Allocate(10 * 1024 * 1024)
	if len(big) != 10*1024*1024 {
		t.Fatalf("oversized allocation returned %d bytes", len(big))
	}
}

func TestMemoryUsageGrows(t *testing.T) {
	a := New()
	if a.MemoryUsage() != 0 {
		t.Fatal("fresh arena should report zero usage")
	}
	a.Allocate(1)
	if a.MemoryUsage() == 0 {
		t.Fatal("usage should include the backing chunk")
	}
}

func TestAllocationsDoNotAlias(t *testing.T) {
	a := New()
	x := a.Allocate(4)
	y := a.Allocate(4)
	copy(x, "xxxx")
	copy(y, "yyyy")
	if string(x) != "xxxx" {
		t.Fatal("adjacent allocations alias each other")
	}
}
