// File: pagealloc/heap.go
// License: Apache-2.0
//
// Heap-backed api.PageAllocator. Blocks come from the Go heap; ownership
// is tracked by base pointer so ManagesPointer keeps its contract. Used
// on platforms without mmap support and in tests that need determinism.

package pagealloc

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/basicthinker/silo/api"
)

// Compile-time interface compliance.
var _ api.PageAllocator = (*heapAlloc)(nil)

type heapAlloc struct {
	cfg Config

	mu    sync.Mutex
	free  [api.MaxArenas][][]byte // recycled blocks per size class
	owned map[uintptr]struct{}    // base pointers of granted blocks
}

// NewHeap creates a heap-backed allocator.
func NewHeap(cfg *Config) api.PageAllocator {
	return &heapAlloc{cfg: cfg.withDefaults(), owned: make(map[uintptr]struct{})}
}

func base(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// AllocateArenas implements api.PageAllocator. Recycled blocks are handed
// out before fresh ones.
func (h *heapAlloc) AllocateArenas(cpu, class int) ([][]byte, error) {
	if class < 0 || class >= api.MaxArenas {
		return nil, errors.Errorf("pagealloc: size class %d out of range", class)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	batch := make([][]byte, 0, h.cfg.BatchBlocks)
	if n := len(h.free[class]); n > 0 {
		take := h.cfg.BatchBlocks
		if take > n {
			take = n
		}
		batch = append(batch, h.free[class][n-take:]...)
		h.free[class] = h.free[class][:n-take]
		return batch, nil
	}
	size := (class + 1) * api.Alignment
	for i := 0; i < h.cfg.BatchBlocks; i++ {
		b := make([]byte, size)
		h.owned[base(b)] = struct{}{}
		batch = append(batch, b)
	}
	return batch, nil
}

// ReleaseArenas implements api.PageAllocator.
func (h *heapAlloc) ReleaseArenas(lists *api.FreeLists) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for class := range lists {
		h.free[class] = append(h.free[class], lists[class]...)
	}
}

// ManagesPointer implements api.PageAllocator.
func (h *heapAlloc) ManagesPointer(b []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.owned[base(b)]
	return ok
}

// AllocateUnmanaged implements api.PageAllocator.
func (h *heapAlloc) AllocateUnmanaged(cpu, hugepages int) ([]byte, error) {
	if hugepages <= 0 {
		return nil, errors.Errorf("pagealloc: invalid hugepage count %d", hugepages)
	}
	return make([]byte, hugepages*DefaultHugepageSize), nil
}

// HugepageSize implements api.PageAllocator.
func (h *heapAlloc) HugepageSize() int { return DefaultHugepageSize }

// FaultRegion implements api.PageAllocator. The Go heap has no pages to
// pre-fault.
func (h *heapAlloc) FaultRegion(cpu int) {}
