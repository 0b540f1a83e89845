// File: rcu/doc.go
// License: Apache-2.0
//
// Package rcu is the epoch-based memory reclamation core. Worker threads
// wrap shared-structure access in scoped regions; objects retired inside
// a region are destroyed only after every thread in the system has
// provably left the epoch the retirement happened in. Each core owns its
// arena allocator and deferred-free queues, so the read path takes no
// locks and the write path touches only core-local state.
//
// The epoch clock and the page-level allocator are collaborators behind
// the api.Ticker and api.PageAllocator contracts; reference
// implementations live in the ticker and pagealloc packages.
package rcu
