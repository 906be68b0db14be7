// Package order implements the doubly-linked intrusive queues a stripe
// uses to track access order (for expire-after-access and LRU size
// eviction) and write order (for expire-after-write). See spec.md §3/C3.
//
// The queues are intrusive: the prev/next pointers live on the Node
// interface's implementation itself (the cache entry), not in a separate
// container, so push/move-to-tail/unlink are all O(1) with no extra
// allocation. Each queue uses a self-referential sentinel head — an empty
// queue's head has next == prev == itself. A node that is not in a queue
// has nil links for it (their zero value, restored by unlink), and
// InQueue reports such a node as not linked.
//
// Adapted from internal/clockpro's ring-manipulation routines (append/
// remove on a circular list with a head pointer); the CLOCK-Pro hot/cold
// hand sweep is gone — spec.md keeps per-stripe LRU/FIFO only.
//
// © 2025 stripecache authors. MIT License.
package order

// Links holds the prev/next pointers for one queue. An entry that
// participates in both the access and write queues embeds two Links
// values (one per queue) — see pkg/shard.go's entry struct.
type Links[N any] struct {
	next *N
	prev *N
}

// Queue is a circular doubly-linked list with a sentinel head node. The
// sentinel is a real *N provided by the caller (NewQueue) so that the
// queue never needs to allocate a synthetic node — the cache entry
// itself can serve double duty, or a dedicated sentinel value can be
// used; stripecache uses a dedicated sentinel (see pkg/shard.go).
type Queue[N any] struct {
	head   *N
	linkOf func(*N) *Links[N]
	len    int
}

// New constructs a Queue whose sentinel is head and whose Links accessor
// is linkOf (so the same entry type can be linked into multiple
// independent queues, e.g. access and write, by giving each Queue its own
// accessor closure).
func New[N any](head *N, linkOf func(*N) *Links[N]) *Queue[N] {
	q := &Queue[N]{head: head, linkOf: linkOf}
	l := linkOf(head)
	l.next, l.prev = head, head
	return q
}

// Len returns the number of linked (non-sentinel) nodes.
func (q *Queue[N]) Len() int { return q.len }

// InQueue reports whether n is currently linked into q.
func (q *Queue[N]) InQueue(n *N) bool {
	l := q.linkOf(n)
	return l.next != nil && l.next != n
}

// PushTail links n just before the sentinel (i.e. at the tail / most
// recently written or most recently accessed position).
func (q *Queue[N]) PushTail(n *N) {
	head := q.linkOf(q.head)
	tailLinks := q.linkOf(head.prev)
	nl := q.linkOf(n)

	nl.prev = head.prev
	nl.next = q.head
	tailLinks.next = n
	head.prev = n
	q.len++
}

// MoveToTail unlinks n (if linked) and re-links it at the tail. Used on
// every access when an access queue is enabled.
func (q *Queue[N]) MoveToTail(n *N) {
	if q.InQueue(n) {
		q.unlink(n)
	}
	q.PushTail(n)
}

// Remove unlinks n from the queue; a no-op if n is not currently linked.
func (q *Queue[N]) Remove(n *N) {
	if !q.InQueue(n) {
		return
	}
	q.unlink(n)
}

func (q *Queue[N]) unlink(n *N) {
	nl := q.linkOf(n)
	prev, next := nl.prev, nl.next
	q.linkOf(prev).next = next
	q.linkOf(next).prev = prev
	nl.next, nl.prev = nil, nil
	q.len--
}

// Front returns the eldest linked node (the one right after the
// sentinel), or nil if the queue is empty.
func (q *Queue[N]) Front() *N {
	if q.len == 0 {
		return nil
	}
	return q.linkOf(q.head).next
}

// Next returns the node following n in queue order, or nil once the walk
// reaches back to the sentinel.
func (q *Queue[N]) Next(n *N) *N {
	nxt := q.linkOf(n).next
	if nxt == q.head {
		return nil
	}
	return nxt
}
