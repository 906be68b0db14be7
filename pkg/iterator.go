package cache

// iterator.go implements spec.md §4.9/§4.10's multi-stripe facade
// operations: GetAll/GetAllPresent (fan out per key, falling back to
// per-key loads via the batchGroup in pkg/loader.go when the Loader
// doesn't support LoadAll), InvalidateAll, ContainsValue (bounded
// modCount-stabilized retry), IsEmpty (two-pass modCount check), and
// AsMap/ForEach (the weakly-consistent, last-stripe-to-first,
// high-bucket-to-low iterator).
//
// Grounded on the teacher's pkg/cache.go Len/Close fan-out pattern,
// widened with golang.org/x/sync/errgroup for concurrent per-key fan-out
// (the teacher's other_examples companion,
// other_examples/154a3f22_bingoohuang-loadingcache, does the same
// per-key loader fallback for its own GetAll).
//
// © 2025 stripecache authors. MIT License.

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// GetAllPresent returns the subset of keys that currently have a live
// value, without invoking any loader.
func (c *Cache[K, V]) GetAllPresent(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := c.GetIfPresent(k); ok {
			out[k] = v
		}
	}
	return out
}

// GetAll returns a value for every key in keys, loading whichever are
// missing (spec.md §4.9). When loader supports LoadAll, it is invoked
// once with the full miss set; otherwise each miss is loaded
// individually, deduplicated across concurrent GetAll calls via
// batchGroup. A LoadAll response missing a requested key surfaces as
// InvalidLoadError.
func (c *Cache[K, V]) GetAll(ctx context.Context, keys []K, loader Loader[K, V]) (map[K]V, error) {
	if loader == nil {
		loader = c.cfg.loader
	}
	if loader == nil {
		return nil, errNoLoader
	}

	out := make(map[K]V, len(keys))
	var missing []K
	for _, k := range keys {
		if v, ok := c.GetIfPresent(k); ok {
			out[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	if loaded, ok, err := loader.LoadAll(ctx, missing); ok {
		if err != nil {
			return nil, err
		}
		for _, k := range missing {
			v, found := loaded[k]
			if !found {
				return nil, &InvalidLoadError{Key: k}
			}
			c.Put(k, v)
			out[k] = v
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]V, len(missing))
	for i, k := range missing {
		i, k := i, k
		g.Go(func() error {
			hash := c.hashKey(k)
			v, err := c.batch.loadOne(gctx, uint64(hash), k, loader)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, k := range missing {
		c.Put(k, results[i])
		out[k] = results[i]
	}
	return out, nil
}

// InvalidateAll removes every key in keys, or (with no arguments) clears
// the entire cache. Both emit Explicit notifications (spec.md §6).
func (c *Cache[K, V]) InvalidateAll(keys ...K) {
	if len(keys) == 0 {
		c.clear()
		return
	}
	for _, k := range keys {
		c.Invalidate(k)
	}
}

func (c *Cache[K, V]) clear() {
	for _, s := range c.shards {
		for {
			key, val, ok := firstLiveEntry(s)
			if !ok {
				break
			}
			hash := c.hashKey(key)
			s.remove(hash, key, val, false)
		}
	}
}

func firstLiveEntry[K comparable, V any](s *shard[K, V]) (key K, val V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.buckets) - 1; i >= 0; i-- {
		for e := s.bucketAt(uint32(i)); e != nil; e = e.next.Load() {
			h := e.holder.Load()
			if h == nil || h.isLoading() {
				continue
			}
			v, live := h.value(s.cfg)
			if !live {
				continue
			}
			k, keyOK := e.liveKey(s.cfg)
			if !keyOK {
				continue
			}
			return k, v, true
		}
	}
	var zk K
	var zv V
	return zk, zv, false
}

// IsEmpty reports whether the cache currently holds no live entries,
// using spec.md §4.9's two-pass modCount check: if every stripe's
// modCount is unchanged between an initial len() pass and a
// confirmation pass, and every stripe reported zero, the cache is empty.
func (c *Cache[K, V]) IsEmpty() bool {
	before := make([]uint64, len(c.shards))
	for i, s := range c.shards {
		before[i] = s.snapshotModCount()
		if s.len() != 0 {
			return false
		}
	}
	for i, s := range c.shards {
		if s.snapshotModCount() != before[i] {
			return c.Len() == 0 // a write raced in; fall back to a direct recount
		}
	}
	return true
}

// ContainsValue reports whether any live value in the cache is
// value-equivalent to want. Retries a stripe up to three times if its
// modCount changes mid-scan (spec.md §4.9), then accepts the last
// result rather than looping forever under sustained writes.
func (c *Cache[K, V]) ContainsValue(want V) bool {
	for _, s := range c.shards {
		found := false
		for attempt := 0; attempt < 3; attempt++ {
			before := s.snapshotModCount()
			found = scanForValue(s, want)
			if found || s.snapshotModCount() == before {
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func scanForValue[K comparable, V any](s *shard[K, V], want V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.buckets) - 1; i >= 0; i-- {
		for e := s.bucketAt(uint32(i)); e != nil; e = e.next.Load() {
			h := e.holder.Load()
			if h == nil || h.isLoading() {
				continue
			}
			v, live := h.value(s.cfg)
			if live && valuesEqual(v, want) {
				return true
			}
		}
	}
	return false
}

// AsMap returns a point-in-time snapshot of every live entry, built by
// the weakly-consistent iterator described in spec.md §4.10: stripes
// walked last-to-first, and within a stripe, buckets walked
// high-index-to-low. It may miss entries inserted after the call starts
// and may include entries removed mid-walk; it never raises on
// concurrent modification.
func (c *Cache[K, V]) AsMap() map[K]V {
	out := make(map[K]V)
	c.ForEach(func(k K, v V) bool {
		out[k] = v
		return true
	})
	return out
}

// ForEach walks every live entry in the weakly-consistent order
// described above, calling fn for each. Iteration stops early if fn
// returns false.
func (c *Cache[K, V]) ForEach(fn func(K, V) bool) {
	for i := len(c.shards) - 1; i >= 0; i-- {
		if !forEachInShard(c.shards[i], fn) {
			return
		}
	}
}

func forEachInShard[K comparable, V any](s *shard[K, V], fn func(K, V) bool) bool {
	s.mu.Lock()
	snapshot := make([]*entry[K, V], 0, s.len())
	for i := len(s.buckets) - 1; i >= 0; i-- {
		for e := s.bucketAt(uint32(i)); e != nil; e = e.next.Load() {
			snapshot = append(snapshot, e)
		}
	}
	s.mu.Unlock()

	for _, e := range snapshot {
		h := e.holder.Load()
		if h == nil || h.isLoading() {
			continue
		}
		v, live := h.value(s.cfg)
		if !live {
			continue
		}
		k, keyOK := e.liveKey(s.cfg)
		if !keyOK {
			continue
		}
		if !fn(k, v) {
			return false
		}
	}
	return true
}
