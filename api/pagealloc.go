// File: api/pagealloc.go
// Package api defines the collaborator contracts consumed by the RCU core.
// License: Apache-2.0
//
// Page-level allocator contract: bulk arena grants keyed by CPU and size
// class, unmanaged hugepage allocations, and pointer-ownership queries.
// All interaction is batched so cross-core contention stays off the
// per-allocation path.

package api

// Alignment is the size-class granularity in bytes. Arena blocks are
// multiples of Alignment and at least Alignment-aligned.
const Alignment = 16

// MaxArenas is the number of supported size classes. Class c serves
// blocks of (c+1)*Alignment bytes; requests above the largest class fall
// back to the general-purpose allocator.
const MaxArenas = 32

// MaxAllocSize is the largest request an arena size class can serve.
const MaxAllocSize = Alignment * MaxArenas

// ArenaSize maps a byte size to its size class. It returns the rounded
// block size and the class index. A class >= MaxArenas means the request
// is out of arena range and the caller must fall back.
func ArenaSize(n int) (rounded, class int) {
	if n <= 0 {
		return Alignment, 0
	}
	rounded = (n + Alignment - 1) &^ (Alignment - 1)
	return rounded, rounded/Alignment - 1
}

// FreeLists is the per-class table of freed blocks a core hands back to
// the page allocator in one bulk release. Index is the size class.
type FreeLists [MaxArenas][][]byte

// PageAllocator is the underlying page/NUMA allocator.
//
// Implementations are shared across cores and must be safe for
// concurrent use; callers batch their requests (bulk grants, bulk
// releases) to keep the call frequency low.
type PageAllocator interface {
	// AllocateArenas grants a batch of free blocks of the given size
	// class, backed by memory local to cpu where the platform allows.
	AllocateArenas(cpu, class int) ([][]byte, error)

	// ReleaseArenas takes back every block in the per-class table. The
	// caller forgets the blocks; reusing one afterwards is a contract
	// violation.
	ReleaseArenas(lists *FreeLists)

	// ManagesPointer reports whether b was granted by this allocator.
	// False means the block belongs to the general-purpose allocator.
	ManagesPointer(b []byte) bool

	// AllocateUnmanaged maps hugepages*HugepageSize() bytes that are
	// never individually freed. For long-lived, page-scale structures.
	AllocateUnmanaged(cpu, hugepages int) ([]byte, error)

	// HugepageSize returns the platform hugepage granularity in bytes.
	HugepageSize() int

	// FaultRegion pre-faults the backing pages reserved for cpu. A
	// latency-hiding hint, never required for correctness.
	FaultRegion(cpu int)
}
