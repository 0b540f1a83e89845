// File: api/deleter.go
// Package api defines the collaborator contracts consumed by the RCU core.
// License: Apache-2.0
//
// Type-erased finalizer capability carried by deferred-free entries.

package api

// Disposable owns a resource and knows how to destroy it. Dispose is
// invoked exactly once, after the reclamation boundary has passed the
// epoch the entry was registered under.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a closure to Disposable.
type DisposeFunc func()

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() { f() }
