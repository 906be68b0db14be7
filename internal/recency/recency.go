// Package recency implements the stripe's recency buffer (spec.md C4): a
// lossy, mostly-lock-free staging area for "this entry was just read"
// events. The read path is not allowed to take the stripe lock, so a hit
// records itself here instead; the stripe's cleanup step later drains the
// buffer under its lock and moves each still-live entry to the tail of
// the access queue.
//
// Adapted from internal/genring/genring.go: that file's "ring" was a
// generation-rotation TTL mechanism (bump-arena lifetimes), which has no
// place in this spec — expiration here is driven off the access/write
// queues (spec.md §4.6), not off arena generations. What's kept is the
// ring-of-slots-with-atomic-cursors shape; the actual multi-producer
// CAS-and-publish / single-consumer-drain protocol is grounded on
// otter's lossy.ring (a Go port of Caffeine's BoundedBuffer) and
// ristretto's striped ring buffer, both in other_examples/.
//
// © 2025 stripecache authors. MIT License.
package recency

import "sync/atomic"

const bufferSize = 16 // matches spec.md §4.8's 16-item drain bound in spirit

// Buffer records recently-accessed entries of type *E (a stripe's entry
// pointer type) without ever blocking a reader. A full buffer simply
// drops new records: a dropped record only means that entry's access-
// queue position is stale until its next read, never a correctness bug.
type Buffer[E any] struct {
	head atomic.Uint64
	tail atomic.Uint64
	slot [bufferSize]atomic.Pointer[E]
}

// New constructs an empty recency buffer.
func New[E any]() *Buffer[E] {
	return &Buffer[E]{}
}

// Add records e as recently accessed. Never blocks; may silently drop e
// if the buffer is full or under producer contention, matching the
// "lossy" buffer design spec.md calls for on the read path.
func (b *Buffer[E]) Add(e *E) {
	head := b.head.Load()
	tail := b.tail.Load()
	if tail-head >= bufferSize {
		return // full: drop
	}
	if b.tail.CompareAndSwap(tail, tail+1) {
		b.slot[tail%bufferSize].Store(e)
	}
}

// Drain pops every published record and invokes fn for each, in the
// order they were added. Must only be called by the stripe while it
// holds its lock (single consumer).
func (b *Buffer[E]) Drain(fn func(*E)) {
	head := b.head.Load()
	tail := b.tail.Load()
	for head != tail {
		idx := head % bufferSize
		ptr := b.slot[idx].Load()
		if ptr == nil {
			break // producer claimed the slot but hasn't published yet
		}
		b.slot[idx].Store(nil)
		fn(ptr)
		head++
	}
	b.head.Store(head)
}
