// File: pxqueue/queue.go
// Package pxqueue implements the epoch-ordered deferred-free queue.
// License: Apache-2.0
//
// A Queue stores (resource, finalizer) entries bucketed into segments,
// one epoch per segment, in non-decreasing epoch order. Spare segments
// are recycled through a freelist so alternating drain passes do not
// reallocate queue internals. The layout is stable: external reapers may
// drain a core's queue with the same prefix-extraction procedure the
// owning thread uses.
//
// A Queue is single-writer; it inherits the per-core ownership model of
// the sync state that embeds it.

package pxqueue

import (
	"fmt"

	eq "github.com/eapache/queue"

	"github.com/basicthinker/silo/api"
)

// DefaultSegmentCap matches the original group size of the delete queue.
const DefaultSegmentCap = 4096

// segment is one epoch bucket.
type segment struct {
	epoch uint64
	items []api.Disposable
}

// Queue is an epoch-ordered container of deferred-free entries.
type Queue struct {
	segs   []*segment
	free   *eq.Queue // recycled *segment
	segCap int
	length int
}

// New creates a queue whose segments hold up to segCap entries.
// segCap <= 0 selects DefaultSegmentCap.
func New(segCap int) *Queue {
	if segCap <= 0 {
		segCap = DefaultSegmentCap
	}
	return &Queue{free: eq.New(), segCap: segCap}
}

// AllocFreelist pre-populates the segment freelist with n spare segments.
func (q *Queue) AllocFreelist(n int) {
	for i := 0; i < n; i++ {
		q.free.Add(&segment{items: make([]api.Disposable, 0, q.segCap)})
	}
}

// Empty reports whether the queue holds no entries.
func (q *Queue) Empty() bool { return q.length == 0 }

// Len returns the number of entries in the queue.
func (q *Queue) Len() int { return q.length }

// FreelistLen returns the number of spare segments available for reuse.
func (q *Queue) FreelistLen() int { return q.free.Length() }

// Enqueue appends an entry tagged with the given epoch. Epochs must be
// non-decreasing; the prefix extraction performed at reclamation time
// depends on it.
func (q *Queue) Enqueue(d api.Disposable, epoch uint64) {
	n := len(q.segs)
	if n > 0 {
		last := q.segs[n-1]
		if epoch < last.epoch {
			panic(fmt.Sprintf(
				"pxqueue: epoch moved backwards (%d after %d)", epoch, last.epoch))
		}
		if last.epoch == epoch && len(last.items) < q.segCap {
			last.items = append(last.items, d)
			q.length++
			return
		}
	}
	seg := q.getseg()
	seg.epoch = epoch
	seg.items = append(seg.items, d)
	q.segs = append(q.segs, seg)
	q.length++
}

// AcceptFrom moves every entry of src tagged with an epoch <= boundary
// into q, preserving order. Entries tagged strictly newer stay in src.
// This is a prefix extraction: src's segments are already epoch-sorted.
func (q *Queue) AcceptFrom(src *Queue, boundary uint64) {
	cut := 0
	for cut < len(src.segs) && src.segs[cut].epoch <= boundary {
		cut++
	}
	if cut == 0 {
		return
	}
	for _, seg := range src.segs[:cut] {
		q.segs = append(q.segs, seg)
		q.length += len(seg.items)
		src.length -= len(seg.items)
	}
	rest := src.segs[:0]
	rest = append(rest, src.segs[cut:]...)
	for i := len(rest); i < len(src.segs); i++ {
		src.segs[i] = nil
	}
	src.segs = rest
}

// TransferFreelist moves src's spare segments into q's freelist. The
// drain side calls this toward the enqueue side, returning segments
// recycled by earlier drains so steady-state passes allocate nothing.
func (q *Queue) TransferFreelist(src *Queue) {
	for src.free.Length() > 0 {
		q.free.Add(src.free.Remove())
	}
}

// Range visits every entry in epoch order.
func (q *Queue) Range(fn func(epoch uint64, d api.Disposable)) {
	for _, seg := range q.segs {
		for _, d := range seg.items {
			fn(seg.epoch, d)
		}
	}
}

// Clear empties the queue, recycling its segments into the freelist.
func (q *Queue) Clear() {
	for i, seg := range q.segs {
		for j := range seg.items {
			seg.items[j] = nil
		}
		seg.items = seg.items[:0]
		q.free.Add(seg)
		q.segs[i] = nil
	}
	q.segs = q.segs[:0]
	q.length = 0
}

// getseg pops a spare segment or allocates a fresh one.
func (q *Queue) getseg() *segment {
	if q.free.Length() > 0 {
		return q.free.Remove().(*segment)
	}
	return &segment{items: make([]api.Disposable, 0, q.segCap)}
}
