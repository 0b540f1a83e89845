// File: ticker/ticker.go
// Package ticker provides the reference epoch clock for the RCU core.
// License: Apache-2.0
//
// Clock keeps one guard slot per core. A slot records the tick its
// outermost active guard protects; the global minimum over active slots
// is the boundary below which no protected section can still be running.
// Slots are written only by the threads scheduled on their core; the
// minimum computation performs lock-free reads across all slots.

package ticker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/basicthinker/silo/api"
)

// Compile-time interface compliance.
var _ api.Ticker = (*Clock)(nil)

// DefaultTickInterval matches the wall-clock granularity of the original
// engine's clock.
const DefaultTickInterval = 40 * time.Millisecond

type slot struct {
	depth atomic.Int64  // active guards on this core
	tick  atomic.Uint64 // tick protected by the outermost guard
	_     [48]byte      // keep slots on separate cache lines
}

// Clock is a monotonic logical clock with per-core guard slots. It
// implements api.Ticker. Ticks advance either from a background goroutine
// started with Start, or manually via Advance (tests, simulations).
type Clock struct {
	current atomic.Uint64
	slots   []slot

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a clock with one guard slot per core. The clock starts at
// tick 1 so that tick 0 always reads as "not yet safe".
func New(cores int) *Clock {
	if cores <= 0 {
		cores = 1
	}
	c := &Clock{slots: make([]slot, cores)}
	c.current.Store(1)
	return c
}

// Start advances the clock every interval until Stop is called.
// interval <= 0 selects DefaultTickInterval.
func (c *Clock) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(interval, c.stop, c.done)
}

// Stop halts the background ticking goroutine. Safe to call when Start
// was never called.
func (c *Clock) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Clock) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.current.Add(1)
		case <-stop:
			return
		}
	}
}

// Advance moves the clock forward by n ticks.
func (c *Clock) Advance(n uint64) {
	c.current.Add(n)
}

// CurrentTick implements api.Ticker.
func (c *Clock) CurrentTick() uint64 {
	return c.current.Load()
}

// Guard implements api.Ticker. The slot's protected tick is published
// before the depth becomes visible, so a concurrent minimum computation
// never misses a freshly opened section.
func (c *Clock) Guard(cpu int) api.Guard {
	s := &c.slots[cpu%len(c.slots)]
	tick := c.current.Load()
	if s.depth.Load() == 0 {
		s.tick.Store(tick)
	} else {
		tick = s.tick.Load()
	}
	s.depth.Add(1)
	return &Guard{slot: s, tick: tick}
}

// GlobalLastTickExclusive implements api.Ticker: the minimum tick still
// protected by some active guard, or the current tick when none is.
func (c *Clock) GlobalLastTickExclusive() uint64 {
	min := c.current.Load()
	for i := range c.slots {
		s := &c.slots[i]
		if s.depth.Load() <= 0 {
			continue
		}
		if t := s.tick.Load(); t < min {
			min = t
		}
	}
	return min
}

// Guard is a protected-section token handed out by Clock.
type Guard struct {
	slot *slot
	tick uint64
}

// Tick returns the tick this guard protects.
func (g *Guard) Tick() uint64 { return g.tick }

// Release ends the protected section. Releasing more guards than were
// acquired on a core is a fatal programming error.
func (g *Guard) Release() {
	if g.slot.depth.Add(-1) < 0 {
		panic("ticker: guard released twice")
	}
}
