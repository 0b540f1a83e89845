// File: api/ticker.go
// Package api defines the collaborator contracts consumed by the RCU core.
// License: Apache-2.0
//
// Epoch clock ("ticker") contract: a coarse monotonic clock plus scoped
// guard tokens marking protected-section membership. The RCU core never
// advances the clock itself; it only reads ticks and the global minimum
// still protected by some guard.

package api

// Ticker is the global epoch clock.
//
// Guard registration is on the critical path of every region entry and
// must be O(1); implementations may spin briefly but must not block.
type Ticker interface {
	// Guard opens a protected section for the given core and returns the
	// token that pins the tick it protects.
	Guard(cpu int) Guard

	// CurrentTick returns the clock's current tick.
	CurrentTick() uint64

	// GlobalLastTickExclusive returns the tick (exclusive) below which no
	// guard anywhere in the system is still active. Monotonically
	// non-decreasing.
	GlobalLastTickExclusive() uint64
}

// Guard is a scoped protected-section token. Release must be called
// exactly once, on the same thread that acquired the guard.
type Guard interface {
	// Tick is the tick this guard protects. Entries enqueued under this
	// guard may not be reclaimed until the global minimum passes it.
	Tick() uint64

	// Release ends the protected section for this token.
	Release()
}
