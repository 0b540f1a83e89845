// File: rcu/sync.go
// License: Apache-2.0
//
// Sync is the per-core state: the active and scratch deferred-free
// queues, region nesting depth, the last-reaped bookmark, and the arena
// allocator front end (size-classed free lists over bulk page grants).
//
// A Sync is written only by threads scheduled on its core. Unpinned
// threads fall back to the general-purpose allocator, so the occasional
// OS migration of an unpinned thread is tolerated.

package rcu

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/basicthinker/silo/api"
	"github.com/basicthinker/silo/pxqueue"
)

// Sync is one core's reclamation and allocation state.
type Sync struct {
	r       *RCU
	core    int
	queue   *pxqueue.Queue // active deferred-free entries
	scratch *pxqueue.Queue // drain staging; empty between passes

	depth      uint32 // region nesting; 0 means not in a region
	lastReaped uint64 // last epoch this core drained; never decreases
	pinCPU     int    // -1 when unpinned; immutable once set

	frees    api.FreeLists         // per-class freed blocks
	deallocs [api.MaxArenas]uint64 // un-released deallocations per class
}

func newSync(r *RCU, core int) *Sync {
	s := &Sync{
		r:       r,
		core:    core,
		queue:   pxqueue.New(r.cfg.QueueSegmentCap),
		scratch: pxqueue.New(r.cfg.QueueSegmentCap),
		pinCPU:  -1,
	}
	s.queue.AllocFreelist(r.cfg.QueueGroups)
	s.scratch.AllocFreelist(r.cfg.QueueGroups)
	return s
}

// Core returns the core index this Sync is bound to.
func (s *Sync) Core() int { return s.core }

// Depth returns the current region nesting depth.
func (s *Sync) Depth() uint32 { return s.depth }

// PinCPU returns the pinned CPU, or -1 when unpinned.
func (s *Sync) PinCPU() int { return s.pinCPU }

// LastReapedEpoch returns the bookmark of the last drained epoch.
func (s *Sync) LastReapedEpoch() uint64 { return s.lastReaped }

// DeferredQueue exposes the active queue in its epoch-ordered layout so
// an external reaper can run the same drain procedure out-of-band.
func (s *Sync) DeferredQueue() *pxqueue.Queue { return s.queue }

// Alloc returns a block of at least size bytes. Callers must remember
// the size and pass the same value to Dealloc. Unpinned cores and
// requests above the largest size class fall back to the general
// allocator; that is documented behavior, not an error.
func (s *Sync) Alloc(size int) []byte {
	if s.pinCPU == -1 {
		return make([]byte, size)
	}
	_, class := api.ArenaSize(size)
	if class >= api.MaxArenas {
		s.r.stats.LargeAllocs.Add(1)
		return make([]byte, size)
	}
	if len(s.frees[class]) == 0 {
		batch, err := s.r.alloc.AllocateArenas(s.pinCPU, class)
		if err != nil || len(batch) == 0 {
			panic(fmt.Sprintf("rcu: arena grant failed for cpu %d class %d: %v",
				s.pinCPU, class, err))
		}
		s.frees[class] = batch
	}
	n := len(s.frees[class]) - 1
	b := s.frees[class][n]
	s.frees[class] = s.frees[class][:n]
	s.r.stats.ArenaAllocs.Add(1)
	return b[:size]
}

// AllocStatic allocates size bytes rounded up to the hugepage
// granularity, with the intention of never freeing them. Meant for
// long-lived, page-scale structures.
func (s *Sync) AllocStatic(size int) ([]byte, error) {
	if s.pinCPU == -1 {
		return make([]byte, size), nil
	}
	hp := s.r.alloc.HugepageSize()
	pages := (size + hp - 1) / hp
	buf, err := s.r.alloc.AllocateUnmanaged(s.pinCPU, pages)
	if err != nil {
		return nil, err
	}
	return buf[:size], nil
}

// Dealloc returns a block to its size class. This releases memory back
// to the allocator subsystem; objects are retired through Handle.Free,
// not here. The size must match the Alloc that produced b.
func (s *Sync) Dealloc(b []byte, size int) {
	if !s.r.alloc.ManagesPointer(b) {
		// General-purpose blocks are reclaimed by the garbage collector.
		return
	}
	rounded, class := api.ArenaSize(size)
	if class >= api.MaxArenas {
		panic("rcu: dealloc size out of arena range for a managed block")
	}
	if cap(b) < rounded {
		panic("rcu: dealloc size does not match allocation")
	}
	s.frees[class] = append(s.frees[class], b[:rounded:rounded])
	s.deallocs[class]++
}

// TryRelease returns the free lists to the page allocator once the
// number of un-released deallocations crosses the configured threshold.
func (s *Sync) TryRelease() {
	var acc uint64
	for i := range s.deallocs {
		acc += s.deallocs[i]
	}
	if acc <= s.r.cfg.ReleaseThreshold {
		return
	}
	s.doRelease()
	s.r.stats.Releases.Add(1)
	s.r.stats.ReleasedBlocks.Add(acc)
	s.r.log.Debug("arena release",
		zap.Int("core", s.core), zap.Uint64("blocks", acc))
}

// doRelease returns every class's entire free list to the page
// allocator and zeroes the local bookkeeping. Called from TryRelease and
// eagerly when a thread pins.
func (s *Sync) doRelease() {
	s.r.alloc.ReleaseArenas(&s.frees)
	s.frees = api.FreeLists{}
	s.deallocs = [api.MaxArenas]uint64{}
}

// reap runs the reclamation pass. Called when the outermost region on
// this core closes.
func (s *Sync) reap() {
	boundary := s.r.CleanEpochExclusive()
	if boundary == 0 {
		// Nothing is provably safe yet.
		return
	}
	clean := boundary - 1

	if s.lastReaped > clean {
		panic(fmt.Sprintf("rcu: last reaped epoch %d beyond safe boundary %d",
			s.lastReaped, clean))
	}
	if !s.scratch.Empty() {
		panic("rcu: scratch queue not drained by previous pass")
	}
	if s.lastReaped == clean {
		return
	}
	s.lastReaped = clean

	s.scratch.AcceptFrom(s.queue, clean)
	s.queue.TransferFreelist(s.scratch)
	if s.scratch.Empty() {
		return
	}
	var n uint64
	s.scratch.Range(func(epoch uint64, d api.Disposable) {
		s.dispose(d, epoch)
		n++
	})
	s.scratch.Clear()
	s.r.stats.Deletes.Add(n)
	s.r.stats.LocalReaps.Add(1)

	s.TryRelease()
}

// dispose runs one finalizer, isolating the drain loop from panics: a
// single bad destructor must not leak the rest of the batch.
func (s *Sync) dispose(d api.Disposable, epoch uint64) {
	defer func() {
		if p := recover(); p != nil {
			s.r.stats.DisposeFailures.Add(1)
			s.r.log.Error("uncaught panic in deferred free",
				zap.Any("panic", p),
				zap.Uint64("epoch", epoch),
				zap.Int("core", s.core))
		}
	}()
	d.Dispose()
}
