// File: rcu/region.go
// License: Apache-2.0
//
// Scoped region guard. Construct one around any code that may
// dereference shared structures; closing the outermost region drives the
// reclamation pass for the core.
//
// Every region, nested or not, holds its own ticker guard token, but the
// outermost guard's tick is the one that tags deferred frees and blocks
// epoch advancement. Regions must be exited in LIFO order on the handle
// that opened them.

package rcu

import "github.com/basicthinker/silo/api"

// Region is a stack-scoped critical-section marker.
type Region struct {
	h      *Handle
	guard  api.Guard
	prev   *Region
	exited bool
}

// Enter opens a region: acquires a guard token from the epoch clock and
// increments the core's nesting depth.
func (h *Handle) Enter() *Region {
	g := h.r.ticker.Guard(h.sync.core)
	reg := &Region{h: h, guard: g, prev: h.cur}
	if h.cur == nil {
		h.outer = reg
	}
	h.cur = reg
	h.sync.depth++
	return reg
}

// Do runs fn inside a region.
func (h *Handle) Do(fn func()) {
	reg := h.Enter()
	defer reg.Exit()
	fn()
}

// Exit closes the region: releases its guard token unconditionally and
// decrements the nesting depth. When the outermost region closes, the
// thread is provably outside all protected code and the reclamation pass
// runs against this core's queues.
func (reg *Region) Exit() {
	h := reg.h
	if reg.exited {
		panic("rcu: region exited twice")
	}
	if h.cur != reg {
		panic("rcu: region exit out of order")
	}
	reg.exited = true
	h.cur = reg.prev
	if h.cur == nil {
		h.outer = nil
	}
	reg.guard.Release()

	s := h.sync
	if s.depth == 0 {
		panic("rcu: region depth underflow")
	}
	s.depth--
	if s.depth != 0 {
		return
	}
	s.reap()
}
