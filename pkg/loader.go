package cache

// loader.go provides the load-coordination helpers shared between the
// Loading-holder protocol in pkg/shard.go (spec.md §4.4, the primary
// at-most-one-load mechanism) and the bulk GetAll fallback path
// (spec.md §4.9), plus recursive-load detection (§4.4/§7).
//
// Grounded on the teacher's pkg/loader.go, which wrapped
// golang.org/x/sync/singleflight as a generic loaderGroup; singleflight
// is kept for exactly the case the teacher used it for — deduplicating
// concurrent per-key loads — but narrowed to the batch-fallback path,
// since the single-key path's exact semantics (return the stale value
// during refresh, install a Loading placeholder visible to chain
// walkers, at-most-one-load across N waiters via a shared future, etc.)
// need the stripe lock and entry visibility that singleflight alone
// doesn't give us.
//
// © 2025 stripecache authors. MIT License.

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// loadChainKey is the context key under which enterLoad records, along
// one logical call chain (a goroutine's call stack, threaded through
// context.Context), which key hashes are currently being loaded. This is
// the idiomatic Go stand-in for spec.md's
// "monitor keyed on the entry identity, held by the current thread": Go
// doesn't expose thread identity, but a context.Context already flows
// exactly along the call chain that would hold such a monitor.
type loadChainKey struct{}

// enterLoad returns a context carrying hash as an in-progress load, and
// recursive=true if hash was already in progress somewhere up the chain
// (meaning this call must fail fast with RecursiveLoadError instead of
// invoking the loader again).
func enterLoad(ctx context.Context, hash uint64) (next context.Context, recursive bool) {
	existing, _ := ctx.Value(loadChainKey{}).(map[uint64]struct{})
	if _, ok := existing[hash]; ok {
		return ctx, true
	}
	widened := make(map[uint64]struct{}, len(existing)+1)
	for h := range existing {
		widened[h] = struct{}{}
	}
	widened[hash] = struct{}{}
	return context.WithValue(ctx, loadChainKey{}, widened), false
}

// batchGroup deduplicates concurrent GetAll calls that both need to load
// the same missing key via a Loader that doesn't support LoadAll: without
// this, two overlapping GetAll calls could each independently invoke Load
// for the same key, defeating the at-most-one-load guarantee spec.md
// §4.4/§8.5 asks for even outside the single-key path.
type batchGroup[K comparable, V any] struct {
	g singleflight.Group
}

func newBatchGroup[K comparable, V any]() *batchGroup[K, V] {
	return &batchGroup[K, V]{}
}

func (bg *batchGroup[K, V]) loadOne(ctx context.Context, hash uint64, key K, loader Loader[K, V]) (V, error) {
	k := strconv.FormatUint(hash, 16)
	res, err, _ := bg.g.Do(k, func() (any, error) {
		return loader.Load(ctx, key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
