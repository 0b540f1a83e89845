// File: pagealloc/pagealloc.go
// Package pagealloc implements the page-level allocator behind the
// per-core arenas.
// License: Apache-2.0
//
// Two implementations of api.PageAllocator live here. On Linux, blocks
// are carved out of per-CPU anonymous mappings so a pinned core's arena
// memory stays NUMA-local and ownership can be answered by address-range
// lookup. Everywhere else, and in deterministic tests, a heap-backed
// variant serves the same contract from make([]byte) blocks.
//
// Callers batch their requests (bulk grants, bulk releases), so a single
// mutex per allocator is not a contention point.

package pagealloc

import "github.com/basicthinker/silo/api"

// DefaultRegionBytes is the size of each OS mapping a CPU region grows by.
const DefaultRegionBytes = 16 << 20

// DefaultBatchBlocks is the number of blocks granted per arena request.
const DefaultBatchBlocks = 64

// DefaultHugepageSize is assumed when the platform size cannot be probed.
const DefaultHugepageSize = 2 << 20

// Config tunes an allocator instance.
type Config struct {
	RegionBytes int // per-mapping growth granularity; 0 selects DefaultRegionBytes
	BatchBlocks int // blocks per AllocateArenas grant; 0 selects DefaultBatchBlocks
}

func (cfg *Config) withDefaults() Config {
	out := Config{RegionBytes: DefaultRegionBytes, BatchBlocks: DefaultBatchBlocks}
	if cfg == nil {
		return out
	}
	if cfg.RegionBytes > 0 {
		out.RegionBytes = cfg.RegionBytes
	}
	if cfg.BatchBlocks > 0 {
		out.BatchBlocks = cfg.BatchBlocks
	}
	return out
}

// New returns the platform allocator: mmap-backed on Linux, heap-backed
// elsewhere.
func New(cfg *Config) api.PageAllocator {
	return newPlatform(cfg)
}
