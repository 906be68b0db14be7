package cache

// shard.go is the stripe engine (spec.md C8, the hard part): the
// intra-stripe hash table, its eviction/expiration queues, load
// coordination, and reclamation polling. "shard" is this package's name
// for what spec.md calls a stripe — kept from the teacher's own
// pkg/shard.go/pkg/cache.go naming.
//
// Grounded on the teacher's entry struct and RWMutex-guarded map as the
// starting skeleton, generalized into the bucket-chain array spec.md
// §3/§4.1 requires; queue mechanics grounded on the teacher's
// internal/clockpro ring manipulation, repointed from a CLOCK-Pro hand to
// plain LRU/FIFO (internal/order); load coordination grounded on
// other_examples/154a3f22_bingoohuang-loadingcache's loader miss/hit/evict
// bookkeeping and pre-write-cleanup shape.
//
// Design note: spec.md §9 describes eight entry shapes via a class
// hierarchy (key strength x access-tracked? x write-tracked?) and
// suggests "a factory selected by a 3-bit flag... store entries in a
// shape-monomorphized container per cache." Generating eight Go struct
// variants would buy back a handful of unused-pointer bytes at the cost
// of a much harder-to-read cache; since every flag combination's queue
// links are already a cheap zero-value order.Links when unused, this
// cache uses one entry shape per cache instance with the flags carried on
// the stripe (accessTracked/writeTracked) instead of the type.
//
// © 2025 stripecache authors. MIT License.

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/Voskan/stripecache/internal/order"
	"github.com/Voskan/stripecache/internal/reclaim"
	"github.com/Voskan/stripecache/internal/recency"
)

const (
	cleanupDrainInterval = 64 // spec.md §4.7: "every 64 reads"
	reclaimDrainBound    = 16 // spec.md §4.8: "16 items per drain"
	minBucketLen         = 16
	maxBucketLen         = 1 << 30 // spec.md §4.1
	loadFactor           = 0.75
)

type holderKind uint8

const (
	holderUnset holderKind = iota
	holderStrong
	holderReclaimable
	holderLoading
)

// holder is spec.md's value-holder sum type (§3). Holders are immutable
// once published: every transition (install a value, start a load,
// complete a load) builds a new *holder and atomically swaps it into the
// owning entry, so a concurrent lock-free reader either sees the old
// holder or the new one in full, never a partial write.
type holder[K comparable, V any] struct {
	kind        holderKind
	strongValue V   // valid when kind == holderStrong
	ref         any // boxed reclaim.Ref[T], valid when kind == holderReclaimable
	weight      int

	// Loading-only fields. old is the holder this Loading holder
	// preempted (holderUnset if there was none), used both to answer
	// "is this holder active" (spec.md glossary) and, for refresh-ahead,
	// to serve the stale value to concurrent readers.
	old    *holder[K, V]
	done   chan struct{}
	result V
	resultOK bool
	err    error
}

func newUnsetHolder[K comparable, V any]() *holder[K, V] {
	return &holder[K, V]{kind: holderUnset}
}

func newLoadingHolder[K comparable, V any](old *holder[K, V]) *holder[K, V] {
	if old == nil {
		old = newUnsetHolder[K, V]()
	}
	return &holder[K, V]{kind: holderLoading, old: old, done: make(chan struct{})}
}

// value returns the holder's current value and whether it is live. A
// Reclaimable holder resolves through cfg's weak-get closure; a
// collected Reclaimable value reports live=false without mutating
// anything (the entry is reaped later, by cleanup noticing the
// reclamation-queue event or the next access).
func (h *holder[K, V]) value(cfg *config[K, V]) (v V, live bool) {
	switch h.kind {
	case holderStrong:
		return h.strongValue, true
	case holderReclaimable:
		return cfg.getValueRef(h.ref)
	default:
		return v, false
	}
}

// isActive reports whether this holder (or, if Loading, the holder it
// preempted) has ever carried a real value (spec.md glossary: "Active
// holder").
func (h *holder[K, V]) isActive() bool {
	switch h.kind {
	case holderStrong, holderReclaimable:
		return true
	case holderLoading:
		return h.old != nil && h.old.isActive()
	default:
		return false
	}
}

func (h *holder[K, V]) isLoading() bool { return h.kind == holderLoading }

func (h *holder[K, V]) reportedWeight() int {
	if h.kind == holderStrong || h.kind == holderReclaimable {
		return h.weight
	}
	return 0
}

// entry is one cached mapping. One shape serves every cache instance
// (see the package doc comment); accessLinks/writeLinks keep their nil
// zero value (not linked) whenever the owning stripe doesn't track that
// ordering.
type entry[K comparable, V any] struct {
	hash uint32
	next atomic.Pointer[entry[K, V]]

	key      K   // valid when !cfg.keyWeak
	keyRef   any // boxed reclaim.Ref[T], valid when cfg.keyWeak

	holder atomic.Pointer[holder[K, V]]

	accessLinks order.Links[entry[K, V]]
	writeLinks  order.Links[entry[K, V]]

	accessTime atomic.Int64
	writeTime  atomic.Int64
}

// liveKey resolves the entry's key, following the weak-key ref if the
// cache was built with WithWeakKeys. ok is false once a weak key has
// been collected (spec.md §4.8: "an entry whose key has been reclaimed
// reports key = absent").
func (e *entry[K, V]) liveKey(cfg *config[K, V]) (k K, ok bool) {
	if !cfg.keyWeak {
		return e.key, true
	}
	return cfg.getKeyRef(e.keyRef)
}

func (e *entry[K, V]) matchesKey(cfg *config[K, V], want K) bool {
	k, ok := e.liveKey(cfg)
	return ok && k == want
}

// shard is one stripe (spec.md §3 "Stripe"): its own lock, bucket table,
// ordering queues, recency buffer, reclamation queues, notification bus,
// and stats.
type shard[K comparable, V any] struct {
	mu sync.Mutex

	cfg      *config[K, V]
	index    int // this stripe's position, used as part of reclaim tokens
	metrics  metricsSink
	stats    *stripeStats

	buckets []atomic.Pointer[entry[K, V]] // power-of-two length
	mask    uint32
	count   atomic.Int32
	grow    int // count threshold that triggers doubling
	modCount atomic.Uint64

	maxWeight   int64 // 0 == unbounded
	totalWeight int64 // guarded by mu

	accessTracked bool
	writeTracked  bool
	accessHead    *entry[K, V]
	writeHead     *entry[K, V]
	accessQ       *order.Queue[entry[K, V]]
	writeQ        *order.Queue[entry[K, V]]

	recencyBuf   *recency.Buffer[entry[K, V]]
	keyReclaim   *reclaim.Queue
	valueReclaim *reclaim.Queue

	notify notificationBus[K, V]

	readCounter atomic.Uint32
}

func newShard[K comparable, V any](idx int, cfg *config[K, V], maxWeight int64, metrics metricsSink, stats *stripeStats) *shard[K, V] {
	s := &shard[K, V]{
		cfg:       cfg,
		index:     idx,
		metrics:   metrics,
		stats:     stats,
		buckets:   make([]atomic.Pointer[entry[K, V]], minBucketLen),
		mask:      minBucketLen - 1,
		grow:      int(minBucketLen * loadFactor),
		maxWeight: maxWeight,

		accessTracked: cfg.expireAfterAccess > 0 || cfg.maxWeight > 0,
		writeTracked:  cfg.expireAfterWrite > 0 || cfg.refreshAfterWrite > 0,

		recencyBuf: recency.New[entry[K, V]](),
	}
	if cfg.keyWeak {
		s.keyReclaim = reclaim.NewQueue()
	}
	if cfg.valueWeak {
		s.valueReclaim = reclaim.NewQueue()
	}
	if s.accessTracked {
		s.accessHead = &entry[K, V]{}
		s.accessQ = order.New(s.accessHead, func(e *entry[K, V]) *order.Links[entry[K, V]] { return &e.accessLinks })
	}
	if s.writeTracked {
		s.writeHead = &entry[K, V]{}
		s.writeQ = order.New(s.writeHead, func(e *entry[K, V]) *order.Links[entry[K, V]] { return &e.writeLinks })
	}
	return s
}

func (s *shard[K, V]) bucketAt(idx uint32) *entry[K, V] {
	return s.buckets[idx].Load()
}

func (s *shard[K, V]) now() int64 { return s.cfg.clock.NowNanos() }

// ---------------------------------------------------------------------
// Read path (spec.md §4.2) — no lock.
// ---------------------------------------------------------------------

func (s *shard[K, V]) get(hash uint32, key K) (v V, ok bool) {
	if s.count.Load() == 0 {
		s.afterRead()
		s.stats.recordMiss()
		s.metrics.incMiss(s.index)
		return v, false
	}
	idx := hash & s.mask
	for e := s.bucketAt(idx); e != nil; e = e.next.Load() {
		if e.hash != hash || !e.matchesKey(s.cfg, key) {
			continue
		}
		h := e.holder.Load()
		if h != nil && h.isLoading() && h.old != nil && h.old.isActive() {
			// A refresh or reload is running over a prior value: keep
			// serving that value until the new one lands.
			h = h.old
		}
		if h == nil || h.isLoading() {
			// A Loading holder with no prior value is a miss for this
			// read. GetOrLoad then waits on the holder (or raises
			// RecursiveLoadError) without counting a second miss.
			s.afterRead()
			s.stats.recordMiss()
			s.metrics.incMiss(s.index)
			return v, false
		}
		val, live := h.value(s.cfg)
		now := s.now()
		if !live || s.expiredLocked(e, h, now) {
			s.afterRead()
			s.stats.recordMiss()
			s.metrics.incMiss(s.index)
			return v, false
		}
		e.accessTime.Store(now)
		s.recencyBuf.Add(e)
		s.maybeRefresh(e, h, key)
		s.afterRead()
		s.stats.recordHit()
		s.metrics.incHit(s.index)
		return val, true
	}
	s.afterRead()
	s.stats.recordMiss()
	s.metrics.incMiss(s.index)
	return v, false
}

// expiredLocked evaluates expiration without requiring the stripe lock:
// accessTime/writeTime are atomics precisely so the read path can check
// them unguarded (spec.md §4.6).
func (s *shard[K, V]) expiredLocked(e *entry[K, V], h *holder[K, V], now int64) bool {
	if s.cfg.expireAfterAccess > 0 {
		if now-e.accessTime.Load() >= int64(s.cfg.expireAfterAccess) {
			return true
		}
	}
	if s.cfg.expireAfterWrite > 0 {
		if now-e.writeTime.Load() >= int64(s.cfg.expireAfterWrite) {
			return true
		}
	}
	_ = h
	return false
}

func (s *shard[K, V]) afterRead() {
	n := s.readCounter.Add(1)
	if n%cleanupDrainInterval != 0 {
		return
	}
	if s.mu.TryLock() {
		s.cleanupLocked()
		s.mu.Unlock()
		s.dispatchNotifications()
	}
}

// maybeRefresh triggers refresh-ahead (spec.md §4.5) from the read path.
// It never blocks the reader: it takes the lock only to swap in the
// Loading placeholder, then runs the reload in its own goroutine.
func (s *shard[K, V]) maybeRefresh(e *entry[K, V], h *holder[K, V], key K) {
	if s.cfg.refreshAfterWrite <= 0 || s.cfg.loader == nil {
		return
	}
	if s.now()-e.writeTime.Load() < int64(s.cfg.refreshAfterWrite) {
		return
	}
	if !s.mu.TryLock() {
		return
	}
	if e.holder.Load() != h { // already superseded since we checked
		s.mu.Unlock()
		return
	}
	loading := newLoadingHolder[K, V](h)
	e.holder.Store(loading)
	s.mu.Unlock()

	loader := s.cfg.loader
	go s.runRefresh(e, key, h, loading, loader)
}

func (s *shard[K, V]) runRefresh(e *entry[K, V], key K, old, placeholder *holder[K, V], loader Loader[K, V]) {
	start := s.now()
	staleVal, _ := old.value(s.cfg)
	val, err := loader.Reload(context.Background(), key, staleVal)
	elapsed := s.now() - start
	if err != nil {
		s.metrics.incLoadFailure(s.index)
		s.stats.recordLoad(false, elapsed)
		s.cfg.logger.Sugar().Debugw("stripecache: refresh failed, keeping stale value",
			"error", err)
		s.restoreAfterFailedRefresh(e, placeholder, old)
		close(placeholder.done)
		return
	}
	s.metrics.incLoadSuccess(s.index, elapsed)
	s.stats.recordLoad(true, elapsed)
	placeholder.result, placeholder.resultOK = val, true
	s.storeLoadedValue(e, key, placeholder, val)
	close(placeholder.done)
}

// restoreAfterFailedRefresh reinstates the pre-refresh holder so the old
// value remains visible, per spec.md §4.5: "exceptions during refresh are
// logged and swallowed — the old value remains visible."
func (s *shard[K, V]) restoreAfterFailedRefresh(e *entry[K, V], placeholder, old *holder[K, V]) {
	s.mu.Lock()
	if e.holder.Load() == placeholder {
		e.holder.Store(old)
	}
	s.mu.Unlock()
}

// ---------------------------------------------------------------------
// Write path (spec.md §4.3) — under the stripe lock.
// ---------------------------------------------------------------------

// put installs val for key, returning the previous live value if any.
func (s *shard[K, V]) put(hash uint32, key K, val V) (prev V, hadPrev bool) {
	now := s.now()
	weight := s.cfg.weigher(key, val)

	s.mu.Lock()
	s.preWriteCleanupLocked(now)

	e, existed := s.findOrCreateLocked(hash, key)
	old := e.holder.Load()
	if existed && old != nil && old.isActive() {
		if v, live := old.value(s.cfg); live {
			prev, hadPrev = v, true
			s.pushRemovalLocked(key, true, v, true, Replaced)
		} else {
			s.pushRemovalLocked(key, true, v, false, Collected)
		}
	}

	nh := s.buildStrongOrReclaimableHolder(hash, val, weight)
	s.installValueLocked(e, old, nh, now)
	s.runSizeEvictionLocked(e)
	s.mu.Unlock()

	s.dispatchNotifications()
	return prev, hadPrev
}

// putIfAbsent writes val only if no live value is present, returning the
// existing live value otherwise.
func (s *shard[K, V]) putIfAbsent(hash uint32, key K, val V) (existing V, present bool) {
	now := s.now()
	weight := s.cfg.weigher(key, val)

	s.mu.Lock()
	s.preWriteCleanupLocked(now)

	e, existed := s.lookupLiveLocked(hash, key)
	if existed {
		v, _ := e.holder.Load().value(s.cfg)
		s.mu.Unlock()
		return v, true
	}
	e, _ = s.findOrCreateLocked(hash, key)
	old := e.holder.Load()
	nh := s.buildStrongOrReclaimableHolder(hash, val, weight)
	s.installValueLocked(e, old, nh, now)
	s.runSizeEvictionLocked(e)
	s.mu.Unlock()

	s.dispatchNotifications()
	var zero V
	return zero, false
}

// replace overwrites key's value only if a live value is present, or
// only if it equals expected (when expectedOK). Returns the prior value
// and whether a replace happened.
func (s *shard[K, V]) replace(hash uint32, key K, expected V, expectedOK bool, val V) (prev V, replaced bool) {
	now := s.now()
	weight := s.cfg.weigher(key, val)

	s.mu.Lock()
	s.preWriteCleanupLocked(now)

	idx := hash & s.mask
	var e *entry[K, V]
	for cand := s.bucketAt(idx); cand != nil; cand = cand.next.Load() {
		if cand.hash == hash && cand.matchesKey(s.cfg, key) {
			e = cand
			break
		}
	}
	if e == nil {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	old := e.holder.Load()
	if old == nil || !old.isActive() || old.isLoading() {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	oldVal, live := old.value(s.cfg)
	if !live {
		// Collected holder recovered in place, per spec.md §4.3.
		s.pushRemovalLocked(key, true, oldVal, false, Collected)
		nh := s.buildStrongOrReclaimableHolder(hash, val, weight)
		s.installValueLocked(e, old, nh, now)
		s.runSizeEvictionLocked(e)
		s.mu.Unlock()
		s.dispatchNotifications()
		var zero V
		return zero, false
	}
	if expectedOK {
		if !valuesEqual(oldVal, expected) {
			s.mu.Unlock()
			var zero V
			return zero, false
		}
	}
	s.pushRemovalLocked(key, true, oldVal, true, Replaced)
	nh := s.buildStrongOrReclaimableHolder(hash, val, weight)
	s.installValueLocked(e, old, nh, now)
	s.runSizeEvictionLocked(e)
	s.mu.Unlock()

	s.dispatchNotifications()
	return oldVal, true
}

// remove deletes key (optionally only if its value equals expected).
func (s *shard[K, V]) remove(hash uint32, key K, expected V, expectedOK bool) (prev V, removed bool) {
	s.mu.Lock()
	idx := hash & s.mask
	var e *entry[K, V]
	for cand := s.bucketAt(idx); cand != nil; cand = cand.next.Load() {
		if cand.hash == hash && cand.matchesKey(s.cfg, key) {
			e = cand
			break
		}
	}
	if e == nil {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	h := e.holder.Load()
	if h == nil || h.isLoading() {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	val, live := h.value(s.cfg)
	if !live {
		s.detachEntryLocked(hash, e)
		s.pushRemovalLocked(key, true, val, false, Collected)
		s.mu.Unlock()
		s.dispatchNotifications()
		var zero V
		return zero, false
	}
	if expectedOK && !valuesEqual(val, expected) {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	s.detachEntryLocked(hash, e)
	s.pushRemovalLocked(key, true, val, true, Explicit)
	s.mu.Unlock()

	s.dispatchNotifications()
	return val, true
}

// ---------------------------------------------------------------------
// Load coordination (spec.md §4.4) — the at-most-one-load guarantee.
// ---------------------------------------------------------------------

type loadOutcome int

const (
	loadHit loadOutcome = iota
	loadWaitExisting
	loadCreate
)

// getOrLoad implements GetOrLoad's per-stripe half: a cache hit returns
// immediately; a miss against an in-flight Loading holder either waits
// on it or, if this call chain already owns that hash (a loader calling
// back into GetOrLoad for the same key), fails fast with
// RecursiveLoadError instead of deadlocking against itself; a genuine
// miss installs a Loading placeholder and runs loader exactly once.
func (s *shard[K, V]) getOrLoad(ctx context.Context, hash uint32, key K, loader Loader[K, V]) (V, error) {
	var zero V
	if v, ok := s.get(hash, key); ok {
		return v, nil
	}

	nextCtx, recursive := enterLoad(ctx, uint64(hash))

	s.mu.Lock()
	now := s.now()
	s.preWriteCleanupLocked(now)
	e, existingHolder, outcome := s.locateForLoadLocked(hash, key)

	switch outcome {
	case loadHit:
		v, _ := existingHolder.value(s.cfg)
		s.mu.Unlock()
		s.stats.recordHit()
		s.metrics.incHit(s.index)
		return v, nil
	case loadWaitExisting:
		s.mu.Unlock()
		if recursive {
			return zero, &RecursiveLoadError{Key: key}
		}
		return s.waitForLoad(key, existingHolder)
	default:
		placeholder := newLoadingHolder[K, V](existingHolder)
		s.installLoadingLocked(e, existingHolder, placeholder)
		s.mu.Unlock()
		return s.performLoad(nextCtx, hash, key, e, placeholder, loader)
	}
}

// locateForLoadLocked finds or creates key's entry and decides which of
// the three getOrLoad branches applies. Must hold s.mu.
func (s *shard[K, V]) locateForLoadLocked(hash uint32, key K) (e *entry[K, V], old *holder[K, V], outcome loadOutcome) {
	e, _ = s.findOrCreateLocked(hash, key)
	h := e.holder.Load()
	if h == nil {
		return e, nil, loadCreate
	}
	if h.isLoading() {
		return e, h, loadWaitExisting
	}
	v, live := h.value(s.cfg)
	if live {
		if !s.expiredLocked(e, h, s.now()) {
			return e, h, loadHit
		}
		s.pushRemovalLocked(key, true, v, true, Expired)
		return e, h, loadCreate
	}
	if h.isActive() {
		s.pushRemovalLocked(key, true, v, false, Collected)
	}
	return e, h, loadCreate
}

// installLoadingLocked publishes placeholder as e's holder, preserving
// weight/time bookkeeping for whatever old held (an Unset holder
// contributes zero weight either way): old's weight stays counted until
// storeLoadedValue replaces it, and a failed load restores old as it was.
// Must hold s.mu.
func (s *shard[K, V]) installLoadingLocked(e *entry[K, V], old, placeholder *holder[K, V]) {
	e.holder.Store(placeholder)
	s.modCount.Add(1)
}

// performLoad runs loader.Load outside the stripe lock (spec.md §5:
// "the loader function itself must never be invoked while holding the
// stripe lock") and installs the result, or fails the placeholder so
// every waiter observes the same error. A panic inside loader is
// recovered and returned as UncheckedExecutionError.
func (s *shard[K, V]) performLoad(ctx context.Context, hash uint32, key K, e *entry[K, V], placeholder *holder[K, V], loader Loader[K, V]) (V, error) {
	var zero V
	start := s.now()
	var panicked bool
	val, err := func() (v V, err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("%v", r)
			}
		}()
		return loader.Load(ctx, key)
	}()
	elapsed := s.now() - start
	if err != nil {
		s.metrics.incLoadFailure(s.index)
		s.stats.recordLoad(false, elapsed)
		s.failLoad(hash, e, placeholder, err)
		if panicked {
			return zero, &UncheckedExecutionError{Key: key, Cause: err}
		}
		return zero, &ExecutionError{Key: key, Cause: err}
	}
	s.metrics.incLoadSuccess(s.index, elapsed)
	s.stats.recordLoad(true, elapsed)
	placeholder.result, placeholder.resultOK = val, true
	s.storeLoadedValue(e, key, placeholder, val)
	close(placeholder.done)
	return val, nil
}

// storeLoadedValue installs val as e's new holder in place of
// placeholder, provided placeholder is still current (a concurrent
// put/putIfAbsent may have superseded it first). Shared between the
// genuine-miss load path above and refresh-ahead's runRefresh. Returns
// whether the install happened; when it did not, the loaded value is
// dropped and reported as a Replaced notification with no key.
func (s *shard[K, V]) storeLoadedValue(e *entry[K, V], key K, placeholder *holder[K, V], val V) bool {
	weight := s.cfg.weigher(key, val)
	nh := s.buildStrongOrReclaimableHolder(e.hash, val, weight)

	s.mu.Lock()
	if e.holder.Load() != placeholder {
		var noKey K
		s.pushRemovalLocked(noKey, false, val, true, Replaced)
		s.mu.Unlock()
		s.dispatchNotifications()
		return false
	}
	now := s.now()
	s.installValueLocked(e, placeholder.old, nh, now)
	s.runSizeEvictionLocked(e)
	s.mu.Unlock()
	s.dispatchNotifications()
	return true
}

// failLoad records the load error on placeholder and restores whatever
// holder preceded it (an Unset holder if this was a genuine first
// miss), so a failed load never leaves a permanently stuck Loading
// holder behind (spec.md §4.4/§7).
func (s *shard[K, V]) failLoad(hash uint32, e *entry[K, V], placeholder *holder[K, V], err error) {
	placeholder.err = err
	s.mu.Lock()
	if e.holder.Load() == placeholder {
		restore := placeholder.old
		if restore == nil {
			restore = newUnsetHolder[K, V]()
		}
		e.holder.Store(restore)
		s.modCount.Add(1)
		if !restore.isActive() && !restore.isLoading() {
			s.detachEntryLocked(hash, e)
		}
	}
	s.mu.Unlock()
	close(placeholder.done)
}

// waitForLoad blocks until h's in-flight load finishes, then returns its
// outcome. h.done is closed exactly once, by whichever goroutine owns
// the load (performLoad or runRefresh), so every waiter observes the
// same result.
func (s *shard[K, V]) waitForLoad(key K, h *holder[K, V]) (V, error) {
	<-h.done
	if h.err != nil {
		var zero V
		return zero, &ExecutionError{Key: key, Cause: h.err}
	}
	if h.resultOK {
		return h.result, nil
	}
	var zero V
	return zero, &InvalidLoadError{Key: key}
}

// valuesEqual implements spec.md's "value-equivalence" comparison for
// the CAS-style replace(k, expected, v) / remove(k, expected) overloads.
// V is unconstrained (any), so equality can't be the == operator at
// compile time; reflect.DeepEqual is the standard-library stand-in for
// a generic equals().
func valuesEqual[V any](a, b V) bool {
	return reflect.DeepEqual(a, b)
}

// findOrCreateLocked locates key's entry, or allocates and publishes a
// fresh one with an Unset holder. existed reports whether it was found.
func (s *shard[K, V]) findOrCreateLocked(hash uint32, key K) (e *entry[K, V], existed bool) {
	idx := hash & s.mask
	for cand := s.bucketAt(idx); cand != nil; cand = cand.next.Load() {
		if cand.hash == hash && cand.matchesKey(s.cfg, key) {
			return cand, true
		}
	}
	ne := s.newEntryLocked(hash, key)
	ne.holder.Store(newUnsetHolder[K, V]())
	s.publishLocked(idx, ne)
	return ne, false
}

func (s *shard[K, V]) lookupLiveLocked(hash uint32, key K) (e *entry[K, V], found bool) {
	idx := hash & s.mask
	for cand := s.bucketAt(idx); cand != nil; cand = cand.next.Load() {
		if cand.hash != hash || !cand.matchesKey(s.cfg, key) {
			continue
		}
		h := cand.holder.Load()
		if h == nil || h.isLoading() {
			return nil, false
		}
		if _, live := h.value(s.cfg); live {
			return cand, true
		}
		return nil, false
	}
	return nil, false
}

func (s *shard[K, V]) newEntryLocked(hash uint32, key K) *entry[K, V] {
	e := &entry[K, V]{hash: hash}
	if s.cfg.keyWeak {
		e.keyRef = s.cfg.makeKeyRef(key)
		token := reclaimToken{stripe: s.index, hash: hash}
		s.cfg.watchKeyRef(key, token, func(tok any) {
			s.keyReclaim.Notify(reclaim.Event{Token: tok})
		})
	} else {
		e.key = key
	}
	return e
}

func (s *shard[K, V]) publishLocked(idx uint32, e *entry[K, V]) {
	e.next.Store(s.buckets[idx].Load())
	s.buckets[idx].Store(e)
	s.count.Add(1)
	s.modCount.Add(1)
	if int(s.count.Load()) > s.grow && len(s.buckets) < maxBucketLen {
		s.growLocked()
	}
}

func (s *shard[K, V]) growLocked() {
	oldBuckets := s.buckets
	newLen := len(oldBuckets) * 2
	newBuckets := make([]atomic.Pointer[entry[K, V]], newLen)
	newMask := uint32(newLen - 1)
	for i := range oldBuckets {
		for e := oldBuckets[i].Load(); e != nil; {
			next := e.next.Load()
			nidx := e.hash & newMask
			e.next.Store(newBuckets[nidx].Load())
			newBuckets[nidx].Store(e)
			e = next
		}
	}
	s.buckets = newBuckets
	s.mask = newMask
	s.grow = int(float64(newLen) * loadFactor)
}

// detachEntryLocked unlinks e from its bucket chain and both ordering
// queues, and adjusts count/weight bookkeeping. Does not push a
// notification — callers decide the cause.
func (s *shard[K, V]) detachEntryLocked(hash uint32, target *entry[K, V]) {
	idx := hash & s.mask
	var prev *entry[K, V]
	for e := s.bucketAt(idx); e != nil; e = e.next.Load() {
		if e == target {
			if prev == nil {
				s.buckets[idx].Store(e.next.Load())
			} else {
				prev.next.Store(e.next.Load())
			}
			break
		}
		prev = e
	}
	if s.accessTracked {
		s.accessQ.Remove(target)
	}
	if s.writeTracked {
		s.writeQ.Remove(target)
	}
	if h := target.holder.Load(); h != nil {
		s.totalWeight -= int64(h.reportedWeight())
	}
	s.count.Add(-1)
	s.modCount.Add(1)
}

// installValueLocked swaps nh into e, updating queues/weight/time
// bookkeeping. old is e's previous holder (for weight accounting).
func (s *shard[K, V]) installValueLocked(e *entry[K, V], old, nh *holder[K, V], now int64) {
	if old != nil {
		s.totalWeight -= int64(old.reportedWeight())
	}
	e.holder.Store(nh)
	s.totalWeight += int64(nh.reportedWeight())
	e.accessTime.Store(now)
	e.writeTime.Store(now)
	if s.accessTracked {
		s.accessQ.MoveToTail(e)
	}
	if s.writeTracked {
		s.writeQ.MoveToTail(e)
	}
	s.modCount.Add(1)
}

// buildStrongOrReclaimableHolder boxes val per the cache's configured
// value strength. For a reclaimable value, it also arms the watch that
// reports collection back to this stripe's value-reclamation queue,
// keyed by hash so preWriteCleanup/afterRead can relocate the bucket.
func (s *shard[K, V]) buildStrongOrReclaimableHolder(hash uint32, val V, weight int) *holder[K, V] {
	if !s.cfg.valueWeak {
		return &holder[K, V]{kind: holderStrong, strongValue: val, weight: weight}
	}
	token := reclaimToken{stripe: s.index, hash: hash}
	s.cfg.watchValueRef(val, token, func(tok any) {
		s.valueReclaim.Notify(reclaim.Event{Token: tok})
	})
	return &holder[K, V]{kind: holderReclaimable, ref: s.cfg.makeValueRef(val), weight: weight}
}

func (s *shard[K, V]) pushRemovalLocked(key K, keyOK bool, val V, valOK bool, cause RemovalCause) {
	s.notify.push(RemovalNotification[K, V]{Key: key, KeyOK: keyOK, Value: val, ValueOK: valOK, Cause: cause})
	s.metrics.incEviction(s.index, cause)
	s.stats.recordEviction()
}

func (s *shard[K, V]) dispatchNotifications() {
	pending := s.notify.drain()
	dispatch(s.cfg.listener, s.cfg.logger, pending)
}

// ---------------------------------------------------------------------
// Size eviction (spec.md §4.3) and amortized cleanup (spec.md §4.7).
// Caller must hold s.mu.
// ---------------------------------------------------------------------

func (s *shard[K, V]) runSizeEvictionLocked(newEntry *entry[K, V]) {
	if s.maxWeight <= 0 || !s.accessTracked {
		return
	}
	if newEntry != nil {
		if h := newEntry.holder.Load(); h != nil && h.reportedWeight() > s.maxWeight {
			// spec.md §4.3: the new entry alone can never fit, no matter what
			// else gets evicted — reject it on its own rather than clearing
			// out innocent older entries first.
			key, keyOK := newEntry.liveKey(s.cfg)
			val, valOK := h.value(s.cfg)
			s.detachEntryLocked(newEntry.hash, newEntry)
			s.pushRemovalLocked(key, keyOK, val, valOK, Size)
			return
		}
	}
	for s.totalWeight > s.maxWeight {
		victim := s.accessQ.Front()
		if victim == nil {
			return
		}
		h := victim.holder.Load()
		if h != nil && h.reportedWeight() == 0 {
			// spec.md §4.3: "skipping zero-weight holders" — move past
			// it instead of evicting something that can't help.
			s.accessQ.MoveToTail(victim)
			if s.accessQ.Front() == victim {
				return // every entry is zero-weight; nothing to reclaim
			}
			continue
		}
		key, keyOK := victim.liveKey(s.cfg)
		val, valOK := h.value(s.cfg)
		s.detachEntryLocked(victim.hash, victim)
		s.pushRemovalLocked(key, keyOK, val, valOK, Size)
	}
}

func (s *shard[K, V]) preWriteCleanupLocked(now int64) {
	s.drainReclaimLocked(s.keyReclaim)
	s.drainReclaimLocked(s.valueReclaim)
	s.drainRecencyLocked()
	s.expirePastDueLocked(now)
}

func (s *shard[K, V]) cleanupLocked() {
	s.preWriteCleanupLocked(s.now())
	s.readCounter.Store(0)
}

func (s *shard[K, V]) drainRecencyLocked() {
	if !s.accessTracked {
		return
	}
	now := s.now()
	s.recencyBuf.Drain(func(e *entry[K, V]) {
		e.accessTime.Store(now)
		if s.accessQ.InQueue(e) {
			s.accessQ.MoveToTail(e)
		}
	})
}

func (s *shard[K, V]) drainReclaimLocked(q *reclaim.Queue) {
	if q == nil {
		return
	}
	for _, ev := range q.Drain(reclaimDrainBound) {
		tok, ok := ev.Token.(reclaimToken)
		if !ok || tok.stripe != s.index {
			continue
		}
		s.reapByHashLocked(tok.hash)
	}
}

// reapByHashLocked removes every entry at hash whose key or value has
// actually been collected (the token only tells us which bucket to
// recheck, not which specific entry — §4.8: "locates the stripe/bucket
// via the back-reference carried by the entry/holder").
func (s *shard[K, V]) reapByHashLocked(hash uint32) {
	idx := hash & s.mask
	for e := s.bucketAt(idx); e != nil; {
		next := e.next.Load()
		if e.hash == hash {
			if _, keyLive := e.liveKey(s.cfg); !keyLive {
				s.reapEntryLocked(e)
			} else if h := e.holder.Load(); h != nil && !h.isLoading() {
				if _, valLive := h.value(s.cfg); !valLive && h.isActive() {
					s.reapEntryLocked(e)
				}
			}
		}
		e = next
	}
}

func (s *shard[K, V]) reapEntryLocked(e *entry[K, V]) {
	key, keyOK := e.liveKey(s.cfg)
	var val V
	var valOK bool
	if h := e.holder.Load(); h != nil {
		val, valOK = h.value(s.cfg)
	}
	s.detachEntryLocked(e.hash, e)
	s.pushRemovalLocked(key, keyOK, val, valOK, Collected)
}

func (s *shard[K, V]) expirePastDueLocked(now int64) {
	if s.writeTracked && s.cfg.expireAfterWrite > 0 {
		for {
			e := s.writeQ.Front()
			if e == nil || now-e.writeTime.Load() < int64(s.cfg.expireAfterWrite) {
				break
			}
			s.expireEntryLocked(e)
		}
	}
	if s.accessTracked && s.cfg.expireAfterAccess > 0 {
		for {
			e := s.accessQ.Front()
			if e == nil || now-e.accessTime.Load() < int64(s.cfg.expireAfterAccess) {
				break
			}
			s.expireEntryLocked(e)
		}
	}
}

func (s *shard[K, V]) expireEntryLocked(e *entry[K, V]) {
	h := e.holder.Load()
	if h == nil || h.isLoading() {
		return
	}
	key, keyOK := e.liveKey(s.cfg)
	val, valOK := h.value(s.cfg)
	s.detachEntryLocked(e.hash, e)
	s.pushRemovalLocked(key, keyOK, val, valOK, Expired)
}

// reclaimToken is the opaque back-reference carried through
// internal/reclaim.Watch, letting a stripe find the affected bucket
// without holding a strong pointer to the collected key or value.
type reclaimToken struct {
	stripe int
	hash   uint32
}

// ---------------------------------------------------------------------
// Bookkeeping helpers used by pkg/cache.go and pkg/iterator.go.
// ---------------------------------------------------------------------

func (s *shard[K, V]) len() int { return int(s.count.Load()) }

func (s *shard[K, V]) weight() int64 {
	s.mu.Lock()
	w := s.totalWeight
	s.mu.Unlock()
	return w
}

func (s *shard[K, V]) snapshotModCount() uint64 { return s.modCount.Load() }

func (s *shard[K, V]) close() {
	s.mu.Lock()
	s.buckets = nil
	if s.accessTracked {
		s.accessQ = nil
	}
	if s.writeTracked {
		s.writeQ = nil
	}
	s.mu.Unlock()
}
