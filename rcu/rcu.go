// File: rcu/rcu.go
// License: Apache-2.0
//
// RCU is the process-wide entry point. It owns the core-indexed table of
// Sync states and routes every thread's allocations and deferred frees
// to the Sync its Handle is bound to. There is no package-level
// singleton; build one RCU at startup and hand Handles to workers.

package rcu

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/basicthinker/silo/affinity"
	"github.com/basicthinker/silo/api"
	"github.com/basicthinker/silo/pagealloc"
	"github.com/basicthinker/silo/ticker"
)

// DefaultReleaseThreshold is the number of un-released deallocations,
// summed over all size classes, above which a core returns its free
// lists to the page allocator.
const DefaultReleaseThreshold = 10000

// DefaultQueueGroups is the number of spare segments preallocated per
// deferred-free queue.
const DefaultQueueGroups = 32

// Config holds parameters immutable per run.
type Config struct {
	Cores               int               // size of the core table; 0 selects runtime.NumCPU()
	EpochTimeMultiplier uint64            // ticks per epoch; 0 selects DefaultEpochTimeMultiplier
	QueueSegmentCap     int               // entries per queue segment; 0 selects pxqueue.DefaultSegmentCap
	QueueGroups         int               // preallocated spare segments per queue; 0 selects DefaultQueueGroups
	ReleaseThreshold    uint64            // arena release heuristic; 0 selects DefaultReleaseThreshold
	Ticker              api.Ticker        // epoch clock; nil selects an unstarted ticker.Clock
	Allocator           api.PageAllocator // page allocator; nil selects pagealloc.New
	Logger              *zap.Logger       // nil selects zap.NewNop()
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Cores:               runtime.NumCPU(),
		EpochTimeMultiplier: DefaultEpochTimeMultiplier,
		QueueGroups:         DefaultQueueGroups,
		ReleaseThreshold:    DefaultReleaseThreshold,
	}
}

// RCU routes thread-local lookups to per-core Sync states and exposes
// the reclamation boundary.
type RCU struct {
	cfg    Config
	log    *zap.Logger
	ticker api.Ticker
	alloc  api.PageAllocator
	syncs  []*Sync
	stats  Stats
}

// New constructs the reclamation core. The core table is built eagerly,
// one Sync per core, and is immutable afterwards.
func New(cfg *Config) *RCU {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.Cores <= 0 {
		c.Cores = runtime.NumCPU()
	}
	if c.EpochTimeMultiplier == 0 {
		c.EpochTimeMultiplier = DefaultEpochTimeMultiplier
	}
	if c.QueueGroups <= 0 {
		c.QueueGroups = DefaultQueueGroups
	}
	if c.ReleaseThreshold == 0 {
		c.ReleaseThreshold = DefaultReleaseThreshold
	}
	if c.Ticker == nil {
		c.Ticker = ticker.New(c.Cores)
	}
	if c.Allocator == nil {
		c.Allocator = pagealloc.New(nil)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	r := &RCU{cfg: c, log: c.Logger, ticker: c.Ticker, alloc: c.Allocator}
	r.syncs = make([]*Sync, c.Cores)
	for cpu := range r.syncs {
		r.syncs[cpu] = newSync(r, cpu)
	}
	return r
}

// NumCores returns the size of the core table.
func (r *RCU) NumCores() int { return len(r.syncs) }

// SyncAt exposes the Sync bound to a core. External reapers use this to
// drain a core's deferred-free queue out-of-band.
func (r *RCU) SyncAt(cpu int) *Sync { return r.syncs[cpu] }

// Ticker returns the epoch clock collaborator.
func (r *RCU) Ticker() api.Ticker { return r.ticker }

// Allocator returns the page allocator collaborator.
func (r *RCU) Allocator() api.PageAllocator { return r.alloc }

// Stats returns the live event counters.
func (r *RCU) Stats() *Stats { return &r.stats }

// Handle binds the calling thread to the Sync of the CPU it currently
// runs on. Call once near worker start and keep the handle; it is not
// safe for concurrent use by several goroutines.
func (r *RCU) Handle() *Handle {
	return r.HandleOn(affinity.CurrentCPU() % len(r.syncs))
}

// HandleOn binds to an explicit core.
func (r *RCU) HandleOn(cpu int) *Handle {
	return &Handle{r: r, sync: r.syncs[cpu%len(r.syncs)]}
}

// Handle is a thread's binding to its per-core Sync state. All facade
// operations go through a Handle.
type Handle struct {
	r     *RCU
	sync  *Sync
	cur   *Region // innermost open region
	outer *Region // outermost open region; its guard tick tags deferred frees
}

// Sync returns the per-core state this handle is bound to.
func (h *Handle) Sync() *Sync { return h.sync }

// Pin binds the handle to a specific CPU for the rest of the thread's
// lifetime: requests OS affinity for that CPU, yields so the migration
// can take effect, and flushes arena state accumulated before pinning.
// There is no unpin.
func (h *Handle) Pin(cpu int) error {
	if h.cur != nil {
		panic("rcu: pin inside an open region")
	}
	if cpu < 0 || cpu >= len(h.r.syncs) {
		return errors.Errorf("rcu: cpu %d out of range [0,%d)", cpu, len(h.r.syncs))
	}
	s := h.r.syncs[cpu]
	if s.pinCPU != -1 && s.pinCPU != cpu {
		panic("rcu: sync already pinned to a different cpu")
	}
	s.pinCPU = cpu
	h.sync = s
	if err := affinity.Pin(cpu); err != nil {
		h.r.log.Warn("cpu affinity", zap.Int("cpu", cpu), zap.Error(err))
	}
	runtime.Gosched()
	s.doRelease()
	h.r.log.Debug("thread pinned", zap.Int("cpu", cpu))
	return nil
}

// InRegion reports whether the thread is inside an open region and, if
// so, the epoch deferred frees would be tagged with.
func (h *Handle) InRegion() (epoch uint64, ok bool) {
	if h.outer == nil {
		return 0, false
	}
	return h.r.toEpoch(h.outer.guard.Tick()), true
}

// Free registers d for destruction once the reclamation boundary passes
// the current epoch. Calling it outside a region is a fatal contract
// violation: the entry could not be epoch-tagged correctly.
func (h *Handle) Free(d api.Disposable) {
	epoch, ok := h.InRegion()
	if !ok {
		panic("rcu: deferred free outside region")
	}
	h.sync.queue.Enqueue(d, epoch)
	h.r.stats.Frees.Add(1)
}

// FreeFunc registers a closure finalizer.
func (h *Handle) FreeFunc(fn func()) {
	h.Free(api.DisposeFunc(fn))
}

// Alloc forwards to the bound Sync's arena allocator.
func (h *Handle) Alloc(size int) []byte { return h.sync.Alloc(size) }

// AllocStatic forwards to the bound Sync's unmanaged allocator.
func (h *Handle) AllocStatic(size int) ([]byte, error) { return h.sync.AllocStatic(size) }

// Dealloc forwards to the bound Sync's arena allocator.
func (h *Handle) Dealloc(b []byte, size int) { h.sync.Dealloc(b, size) }

// TryRelease forwards to the bound Sync's release heuristic.
func (h *Handle) TryRelease() { h.sync.TryRelease() }

// FaultRegion pre-faults the pinned core's backing pages. No-op when
// unpinned.
func (h *Handle) FaultRegion() {
	if h.sync.pinCPU == -1 {
		return
	}
	h.r.alloc.FaultRegion(h.sync.pinCPU)
}
