// File: rcu/epoch.go
// License: Apache-2.0
//
// Mapping from the ticker's fine-grained ticks to reclamation epochs.
// Several ticks share one epoch, amortizing queue bookkeeping.

package rcu

// DefaultEpochTimeMultiplier is the number of clock ticks per
// reclamation epoch. Debug and test setups use smaller values for faster
// turnaround.
const DefaultEpochTimeMultiplier = 25

// toEpoch converts a ticker tick into a reclamation epoch.
func (r *RCU) toEpoch(tick uint64) uint64 {
	return tick / r.cfg.EpochTimeMultiplier
}

// CleanEpochExclusive returns the epoch (exclusive) below which no
// region anywhere in the system could still be running. Zero means the
// clock has not advanced far enough for anything to be provably safe.
func (r *RCU) CleanEpochExclusive() uint64 {
	return r.toEpoch(r.ticker.GlobalLastTickExclusive())
}
