//go:build !linux

// File: pagealloc/stub.go
// License: Apache-2.0
//
// Platforms without mmap support fall back to the heap allocator.

package pagealloc

import "github.com/basicthinker/silo/api"

func newPlatform(cfg *Config) api.PageAllocator { return NewHeap(cfg) }
