// Package reclaim models spec.md's C2 ("weak/soft reclamation channel"):
// an abstract notifier that fires when a key or value has been collected
// by the runtime, and is a pure no-op when both key and value strength
// are Strong.
//
// Go has no tracing-GC "weak reference with finalizer queue" primitive
// quite like a JVM ReferenceQueue, but Go 1.24 stabilized the weak
// package (weak.Pointer[T]) and runtime.AddCleanup, which together give
// exactly what spec.md §4.8/§9 asks for: "model as strong-only... or
// integrate with a weak-reference primitive if one is provided by the
// runtime." Ref[T]/Watch[T] below are that primitive.
//
// A cache entry holding a Ref[T] instead of a *T holds no strong
// reference to the referent at all — exactly like Caffeine's
// weakValues()/weakKeys(): the cached copy survives only as long as some
// other strong reference elsewhere in the program keeps the object alive.
// That is the documented, intended behavior, not a bug: weak caching is
// for deduplicating/memoizing objects the application already owns, not
// for pinning them in memory.
//
// Adapted from internal/arena/arena.go: that file wrapped the
// goexperiment-gated `arena` package to hand out bump-allocated pointers.
// Bump allocation has no role in this spec (expiration/eviction here is
// queue-driven, not generation-driven — see internal/recency), so the
// mechanism is replaced wholesale; what's kept is the file's role as the
// one place in the module allowed to reach for runtime-adjacent
// machinery, so the rest of the cache stays ordinary Go.
//
// © 2025 stripecache authors. MIT License.
package reclaim

import (
	"runtime"
	"weak"
)

// Ref is a weak reference to a *T. The zero Ref holds no value.
type Ref[T any] struct {
	ptr weak.Pointer[T]
	set bool
}

// Make wraps v in a weak reference. v must be non-nil.
func Make[T any](v *T) Ref[T] {
	return Ref[T]{ptr: weak.Make(v), set: true}
}

// Value returns the referent and true if the runtime has not yet
// collected it; returns (nil, false) once reclaimed (or for a zero Ref).
func (r Ref[T]) Value() (*T, bool) {
	if !r.set {
		return nil, false
	}
	v := r.ptr.Value()
	return v, v != nil
}

// Watch arms a cleanup on v: once the runtime determines v is
// unreachable, notify(token) is invoked from a runtime-managed goroutine.
// token must not itself keep v reachable (it is an opaque back-reference
// such as a stripe index and hash, never the value itself).
func Watch[T any](v *T, token any, notify func(any)) {
	runtime.AddCleanup(v, func(tok any) { notify(tok) }, token)
}

// Event is delivered when a watched key or value is reclaimed. Token is
// the opaque back-reference supplied to Watch, letting the stripe locate
// the entry being reclaimed without holding a pointer to it.
type Event struct {
	Token any
}

// Queue is the per-stripe inbox fed by Watch callbacks (which run on
// their own goroutine, outside any stripe lock) and drained by the
// stripe's cleanup routine under its lock. It never blocks a producer: a
// full queue simply drops the event, which only delays — never
// corrupts — the eventual reclamation sweep, since the entry is still
// found and reaped on its next access or expiry check.
type Queue struct {
	ch chan Event
}

// NewQueue constructs an empty reclamation queue.
func NewQueue() *Queue {
	return &Queue{ch: make(chan Event, 4096)}
}

// Notify enqueues ev without blocking.
func (q *Queue) Notify(ev Event) {
	select {
	case q.ch <- ev:
	default:
	}
}

// Drain pops up to max pending events without blocking, per spec.md's
// "16 items per drain" bound (§4.8).
func (q *Queue) Drain(max int) []Event {
	out := make([]Event, 0, max)
	for i := 0; i < max; i++ {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}
