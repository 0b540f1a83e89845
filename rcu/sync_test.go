package rcu_test

import (
	"sync/atomic"
	"testing"

	"github.com/basicthinker/silo/api"
	"github.com/basicthinker/silo/pagealloc"
	"github.com/basicthinker/silo/rcu"
	"github.com/basicthinker/silo/ticker"
)

// countingAlloc counts bulk grants and releases on top of a real
// allocator.
type countingAlloc struct {
	api.PageAllocator
	grants   atomic.Int64
	releases atomic.Int64
}

func (c *countingAlloc) AllocateArenas(cpu, class int) ([][]byte, error) {
	c.grants.Add(1)
	return c.PageAllocator.AllocateArenas(cpu, class)
}

func (c *countingAlloc) ReleaseArenas(lists *api.FreeLists) {
	c.releases.Add(1)
	c.PageAllocator.ReleaseArenas(lists)
}

func newArenaTestRCU(t *testing.T, threshold uint64) (*rcu.RCU, *rcu.Handle, *countingAlloc) {
	t.Helper()
	ca := &countingAlloc{PageAllocator: pagealloc.NewHeap(nil)}
	r := rcu.New(&rcu.Config{
		Cores:               2,
		EpochTimeMultiplier: 1,
		ReleaseThreshold:    threshold,
		Ticker:              ticker.New(2),
		Allocator:           ca,
	})
	h := r.HandleOn(0)
	if err := h.Pin(0); err != nil {
		t.Fatalf("pin: %v", err)
	}
	return r, h, ca
}

func TestUnpinnedAllocFallsBackToHeap(t *testing.T) {
	ca := &countingAlloc{PageAllocator: pagealloc.NewHeap(nil)}
	r := rcu.New(&rcu.Config{
		Cores:     1,
		Ticker:    ticker.New(1),
		Allocator: ca,
	})
	h := r.HandleOn(0)
	b := h.Alloc(64)
	if len(b) != 64 {
		t.Fatalf("len = %d, want 64", len(b))
	}
	if ca.grants.Load() != 0 {
		t.Fatal("unpinned alloc touched the page allocator")
	}
	// Deallocating a heap block is a no-op, not an error.
	h.Dealloc(b, 64)
	if got := r.Stats().ArenaAllocs.Load(); got != 0 {
		t.Fatalf("arena allocs = %d, want 0", got)
	}
}

func TestArenaAllocDeallocRoundTrip(t *testing.T) {
	r, h, ca := newArenaTestRCU(t, rcu.DefaultReleaseThreshold)
	base := ca.grants.Load()

	b1 := h.Alloc(48)
	if got := ca.grants.Load(); got != base+1 {
		t.Fatalf("grants = %d after first alloc, want %d", got, base+1)
	}
	h.Dealloc(b1, 48)
	b2 := h.Alloc(48)
	if &b1[0] != &b2[0] {
		t.Fatal("freed block was not reused by the next alloc of its class")
	}
	if got := ca.grants.Load(); got != base+1 {
		t.Fatalf("grants = %d after reuse, want %d", got, base+1)
	}
	if got := r.Stats().ArenaAllocs.Load(); got != 2 {
		t.Fatalf("arena allocs = %d, want 2", got)
	}
}

func TestLargeAllocFallsBack(t *testing.T) {
	r, h, ca := newArenaTestRCU(t, rcu.DefaultReleaseThreshold)
	base := ca.grants.Load()
	b := h.Alloc(api.MaxAllocSize + 1)
	if len(b) != api.MaxAllocSize+1 {
		t.Fatalf("len = %d", len(b))
	}
	if ca.grants.Load() != base {
		t.Fatal("large alloc touched the arenas")
	}
	if got := r.Stats().LargeAllocs.Load(); got != 1 {
		t.Fatalf("large allocs = %d, want 1", got)
	}
}

func TestTryReleaseThreshold(t *testing.T) {
	r, h, ca := newArenaTestRCU(t, 4)
	baseRel := ca.releases.Load()

	blocks := make([][]byte, 6)
	for i := range blocks {
		blocks[i] = h.Alloc(32)
	}
	for _, b := range blocks[:3] {
		h.Dealloc(b, 32)
	}
	h.TryRelease()
	if got := ca.releases.Load(); got != baseRel {
		t.Fatal("release fired below threshold")
	}
	baseGrants := ca.grants.Load()
	// Freed blocks are still local: the next alloc comes from the free
	// list, not a new bulk grant.
	_ = h.Alloc(32)
	if ca.grants.Load() != baseGrants {
		t.Fatal("alloc below threshold bypassed the local free list")
	}

	for _, b := range blocks[3:] {
		h.Dealloc(b, 32)
	}
	h.Dealloc(h.Alloc(32), 32)
	h.Dealloc(h.Alloc(16), 16)
	h.TryRelease() // 3 + 2 + ... un-released deallocs, over threshold 4
	if got := ca.releases.Load(); got != baseRel+1 {
		t.Fatalf("releases = %d, want %d", got, baseRel+1)
	}
	if got := r.Stats().Releases.Load(); got != 1 {
		t.Fatalf("stats releases = %d, want 1", got)
	}
	// Free lists are gone: the next alloc needs a fresh grant.
	baseGrants = ca.grants.Load()
	_ = h.Alloc(32)
	if ca.grants.Load() != baseGrants+1 {
		t.Fatal("free lists survived the release")
	}
}

func TestDeallocSizeMismatchPanics(t *testing.T) {
	_, h, _ := newArenaTestRCU(t, rcu.DefaultReleaseThreshold)
	b := h.Alloc(32)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on size mismatch")
		}
	}()
	h.Dealloc(b, 480)
}

func TestAllocStatic(t *testing.T) {
	_, h, _ := newArenaTestRCU(t, rcu.DefaultReleaseThreshold)
	b, err := h.AllocStatic(100)
	if err != nil {
		t.Fatalf("AllocStatic: %v", err)
	}
	if len(b) != 100 {
		t.Fatalf("len = %d, want 100", len(b))
	}
	// Rounded up to hugepage granularity underneath.
	if cap(b) < pagealloc.DefaultHugepageSize {
		t.Fatalf("cap = %d, want at least one hugepage", cap(b))
	}
}
