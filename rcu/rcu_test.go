package rcu_test

import (
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/basicthinker/silo/pagealloc"
	"github.com/basicthinker/silo/rcu"
	"github.com/basicthinker/silo/ticker"
)

func TestNewDefaults(t *testing.T) {
	r := rcu.New(nil)
	if r.NumCores() < 1 {
		t.Fatalf("NumCores = %d", r.NumCores())
	}
	if r.Ticker() == nil || r.Allocator() == nil {
		t.Fatal("collaborators not defaulted")
	}
	for cpu := 0; cpu < r.NumCores(); cpu++ {
		s := r.SyncAt(cpu)
		if s.Core() != cpu {
			t.Fatalf("SyncAt(%d).Core() = %d", cpu, s.Core())
		}
		if s.PinCPU() != -1 {
			t.Fatalf("core %d pinned at startup", cpu)
		}
	}
}

func TestFreeOutsideRegionPanics(t *testing.T) {
	r, _ := newTestRCU(1)
	h := r.HandleOn(0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on deferred free outside region")
		}
	}()
	h.FreeFunc(func() {})
}

func TestInRegionEpoch(t *testing.T) {
	clock := ticker.New(1)
	r := rcu.New(&rcu.Config{
		Cores:               1,
		EpochTimeMultiplier: 5,
		Ticker:              clock,
		Allocator:           pagealloc.NewHeap(nil),
	})
	h := r.HandleOn(0)
	if _, ok := h.InRegion(); ok {
		t.Fatal("InRegion true before entering")
	}
	clock.Advance(11) // tick 12, epoch 2
	reg := h.Enter()
	epoch, ok := h.InRegion()
	if !ok || epoch != 2 {
		t.Fatalf("InRegion = (%d, %v), want (2, true)", epoch, ok)
	}
	// The outermost guard's tick stays authoritative for nesting.
	clock.Advance(10)
	inner := h.Enter()
	epoch, _ = h.InRegion()
	if epoch != 2 {
		t.Fatalf("nested epoch = %d, want 2", epoch)
	}
	inner.Exit()
	reg.Exit()
}

func TestPinInsideRegionPanics(t *testing.T) {
	r, _ := newTestRCU(1)
	h := r.HandleOn(0)
	reg := h.Enter()
	defer reg.Exit()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on pin inside region")
		}
	}()
	_ = h.Pin(0)
}

func TestPinOutOfRangeFails(t *testing.T) {
	r, _ := newTestRCU(1)
	h := r.HandleOn(0)
	if err := h.Pin(99); err == nil {
		t.Fatal("expected error for out-of-range cpu")
	}
}

func TestFaultRegionUnpinnedIsNoop(t *testing.T) {
	r, _ := newTestRCU(1)
	h := r.HandleOn(0)
	h.FaultRegion() // must not panic or touch the allocator
}

func TestStatsString(t *testing.T) {
	r, clock := newTestRCU(1)
	h := r.HandleOn(0)
	clock.Advance(4)
	h.Do(func() { h.FreeFunc(func() {}) })
	clock.Advance(1)
	h.Do(func() {})
	s := r.Stats().Snapshot()
	if s.Frees != 1 || s.Deletes != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if !strings.Contains(s.String(), "deletes=1") {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestManyWorkersReclaimEverything(t *testing.T) {
	const cores = 4
	const iters = 100
	r, clock := newTestRCU(cores)
	clock.Advance(9)

	handles := make([]*rcu.Handle, cores)
	for i := range handles {
		handles[i] = r.HandleOn(i)
	}

	var executed atomic.Int64
	var g errgroup.Group
	for i := 0; i < cores; i++ {
		h := handles[i]
		g.Go(func() error {
			for j := 0; j < iters; j++ {
				reg := h.Enter()
				h.FreeFunc(func() { executed.Add(1) })
				reg.Exit()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Every region is closed; push the boundary past all tag epochs and
	// let each core run one more pass.
	clock.Advance(2)
	var g2 errgroup.Group
	for i := 0; i < cores; i++ {
		h := handles[i]
		g2.Go(func() error {
			h.Do(func() {})
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := executed.Load(); got != cores*iters {
		t.Fatalf("executed = %d, want %d", got, cores*iters)
	}
	if got := r.Stats().Frees.Load(); got != cores*iters {
		t.Fatalf("frees = %d, want %d", got, cores*iters)
	}
	for i := 0; i < cores; i++ {
		if !r.SyncAt(i).DeferredQueue().Empty() {
			t.Fatalf("core %d queue not empty", i)
		}
	}
}
