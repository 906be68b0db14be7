package cache

// loaderfunc.go defines the Loader interface consumed by GetOrLoad/GetAll
// (spec.md §6/C10) and a functional adapter so a plain function can serve
// as one. Grounded on the teacher's pkg/loaderfunc.go (LoaderFunc) and
// generalized with optional Reload/LoadAll per spec.md's loader contract:
// "load(K) → V; optional reload(K, Vold) → Future<V> ...; optional
// loadAll(iterable<K>) → map<K,V>".
//
// © 2025 stripecache authors. MIT License.

import "context"

// LoaderFunc is the minimal shape a caller must provide: produce a value
// for key or return an error. The same LoaderFunc may be invoked
// concurrently for different keys; it must be safe for concurrent use.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Loader is the full interface GetOrLoad/GetAll consume. Implementations
// that only care about the synchronous single-key case can use FuncLoader
// instead of writing Reload/LoadAll by hand.
type Loader[K comparable, V any] interface {
	// Load produces the value for a missing key.
	Load(ctx context.Context, key K) (V, error)

	// Reload produces a replacement value for key during refresh-ahead,
	// given the current (possibly now-stale) value old. FuncLoader's
	// Reload just calls Load again.
	Reload(ctx context.Context, key K, old V) (V, error)

	// LoadAll attempts to load every key in keys in one batch call. ok is
	// false if this Loader doesn't support batching, in which case the
	// caller falls back to per-key Load calls (spec.md §4.9). A batch
	// result missing a requested key surfaces as InvalidLoadError.
	LoadAll(ctx context.Context, keys []K) (values map[K]V, ok bool, err error)
}

// FuncLoader adapts a single LoaderFunc into a Loader whose Reload just
// reloads via Load and whose LoadAll reports "unsupported" so callers
// fall back to per-key loads. This is the loader most callers want: the
// teacher's examples/basic and examples/disk_eject both use a bare func.
type FuncLoader[K comparable, V any] struct {
	Fn LoaderFunc[K, V]
}

// NewLoader wraps fn as a Loader.
func NewLoader[K comparable, V any](fn LoaderFunc[K, V]) Loader[K, V] {
	return FuncLoader[K, V]{Fn: fn}
}

func (l FuncLoader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.Fn(ctx, key)
}

func (l FuncLoader[K, V]) Reload(ctx context.Context, key K, _ V) (V, error) {
	return l.Fn(ctx, key)
}

func (l FuncLoader[K, V]) LoadAll(_ context.Context, _ []K) (map[K]V, bool, error) {
	var zero map[K]V
	return zero, false, nil
}
