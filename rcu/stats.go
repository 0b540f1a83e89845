// File: rcu/stats.go
// License: Apache-2.0
//
// Event counters for the reclamation core. Counters are plain atomics
// updated from the owning core's thread; Snapshot gives a consistent
// enough read for observability.

package rcu

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats holds the core's event counters.
type Stats struct {
	Frees           atomic.Uint64 // deferred frees registered
	Deletes         atomic.Uint64 // finalizers executed
	LocalReaps      atomic.Uint64 // reclamation passes that drained entries
	ArenaAllocs     atomic.Uint64 // allocations served from arenas
	LargeAllocs     atomic.Uint64 // allocations above the largest size class
	Releases        atomic.Uint64 // threshold-triggered arena releases
	ReleasedBlocks  atomic.Uint64 // deallocations covered by releases
	DisposeFailures atomic.Uint64 // finalizer panics caught during drains
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Frees           uint64
	Deletes         uint64
	LocalReaps      uint64
	ArenaAllocs     uint64
	LargeAllocs     uint64
	Releases        uint64
	ReleasedBlocks  uint64
	DisposeFailures uint64
}

// Snapshot copies the live counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Frees:           s.Frees.Load(),
		Deletes:         s.Deletes.Load(),
		LocalReaps:      s.LocalReaps.Load(),
		ArenaAllocs:     s.ArenaAllocs.Load(),
		LargeAllocs:     s.LargeAllocs.Load(),
		Releases:        s.Releases.Load(),
		ReleasedBlocks:  s.ReleasedBlocks.Load(),
		DisposeFailures: s.DisposeFailures.Load(),
	}
}

// String renders the snapshot for logs and debug endpoints.
func (sn Snapshot) String() string {
	return fmt.Sprintf(
		"frees=%s deletes=%s reaps=%s arena=%s large=%s releases=%s released=%s failures=%s",
		humanize.Comma(int64(sn.Frees)),
		humanize.Comma(int64(sn.Deletes)),
		humanize.Comma(int64(sn.LocalReaps)),
		humanize.Comma(int64(sn.ArenaAllocs)),
		humanize.Comma(int64(sn.LargeAllocs)),
		humanize.Comma(int64(sn.Releases)),
		humanize.Comma(int64(sn.ReleasedBlocks)),
		humanize.Comma(int64(sn.DisposeFailures)))
}
