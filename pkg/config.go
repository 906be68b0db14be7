package cache

// config.go generalizes the teacher's functional-options pattern
// (pkg/config.go: Option[K,V], config[K,V], applyOptions) from a single
// capacity/ttl/shards triple to every knob spec.md's data model names for
// Cache (§3): strength of keys/values, the weigher, expire-after-access,
// expire-after-write, refresh-after-write, concurrency level, the default
// loader, the removal listener, the clock, and the ambient logger/metrics
// registry.
//
// © 2025 stripecache authors. MIT License.

import (
	"errors"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/stripecache/internal/reclaim"
	"github.com/Voskan/stripecache/internal/unsafehelpers"
	"github.com/Voskan/stripecache/internal/xclock"
)

// Weigher computes the weight a (key, value) pair contributes to the
// per-stripe cap (spec.md §6, "weigh(K,V) -> non-negative integer"). It
// runs under the stripe lock and must be cheap and side-effect-free.
type Weigher[K comparable, V any] func(key K, val V) int

// Option configures a Cache[K,V] at construction time. Generic like the
// teacher's Option[K,V], because some options (Weigher, the default
// Loader, the RemovalListener) refer to the concrete K/V the cache is
// built with.
type Option[K comparable, V any] func(*config[K, V])

// config bundles every knob influencing cache behavior. Immutable once
// New returns: spec.md's model has no live-reconfiguration operation.
type config[K comparable, V any] struct {
	concurrencyLevel int
	maxWeight        int64 // 0 means unbounded

	expireAfterAccess time.Duration
	expireAfterWrite  time.Duration
	refreshAfterWrite time.Duration

	weigher  Weigher[K, V]
	loader   Loader[K, V]
	listener RemovalListener[K, V]

	clock    xclock.Clock
	logger   *zap.Logger
	registry *prometheus.Registry

	// Reclaimable-value plumbing, populated only by WithWeakValues[K,T]().
	// valueWeak selects the Reclaimable holder shape in pkg/shard.go;
	// the three closures are type-erased bridges into internal/reclaim,
	// built where T is statically known (see doc comment on
	// WithWeakValues below for why the bridge has to live there).
	valueWeak     bool
	makeValueRef  func(V) any
	getValueRef   func(any) (V, bool)
	watchValueRef func(V, any, func(any))

	// Reclaimable-key plumbing, populated only by WithWeakKeys[T,V]().
	keyWeak     bool
	makeKeyRef  func(K) any
	getKeyRef   func(any) (K, bool)
	watchKeyRef func(K, any, func(any))
}

func defaultWeigher[K comparable, V any](K, V) int { return 1 }

func defaultConfig[K comparable, V any]() *config[K, V] {
	return &config[K, V]{
		concurrencyLevel: 16,
		weigher:          defaultWeigher[K, V],
		clock:            xclock.New(),
		logger:           zap.NewNop(),
	}
}

// WithConcurrencyLevel hints the number of stripes (spec.md §4.1: "the
// stripe count is the smallest power of two >= configured concurrency
// level"). Default 16.
func WithConcurrencyLevel[K comparable, V any](n int) Option[K, V] {
	return func(c *config[K, V]) {
		if n > 0 {
			c.concurrencyLevel = n
		}
	}
}

// WithMaxWeight bounds total cache weight (sum of Weigher results across
// all live entries). Zero (the default) means unbounded: size eviction
// never runs.
func WithMaxWeight[K comparable, V any](w int64) Option[K, V] {
	return func(c *config[K, V]) {
		if w > 0 {
			c.maxWeight = w
		}
	}
}

// WithWeigher overrides the default constant-1 weigher. fn must be cheap,
// deterministic, and side-effect-free (§5: "invoked under the stripe
// lock").
func WithWeigher[K comparable, V any](fn Weigher[K, V]) Option[K, V] {
	return func(c *config[K, V]) {
		if fn != nil {
			c.weigher = fn
		}
	}
}

// WithExpireAfterAccess sets the access-queue-driven expiration policy
// (§4.6). Zero (the default) disables it.
func WithExpireAfterAccess[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *config[K, V]) {
		if d > 0 {
			c.expireAfterAccess = d
		}
	}
}

// WithExpireAfterWrite sets the write-queue-driven expiration policy
// (§4.6). Zero (the default) disables it.
func WithExpireAfterWrite[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *config[K, V]) {
		if d > 0 {
			c.expireAfterWrite = d
		}
	}
}

// WithRefreshAfterWrite enables refresh-ahead (§4.5). Zero (the default)
// disables it. Reads trigger a refresh only when a cache-wide Loader is
// installed via WithLoader; a loader passed per call to GetOrLoad is not
// used for refresh-ahead.
func WithRefreshAfterWrite[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *config[K, V]) {
		if d > 0 {
			c.refreshAfterWrite = d
		}
	}
}

// WithLoader installs the cache-wide default Loader, used by GetOrLoad
// and Refresh when no per-call loader is supplied.
func WithLoader[K comparable, V any](l Loader[K, V]) Option[K, V] {
	return func(c *config[K, V]) {
		c.loader = l
	}
}

// WithRemovalListener registers the sink for removal notifications
// (§4.7, §6, §11). At most one listener per cache; the last call wins.
func WithRemovalListener[K comparable, V any](listener RemovalListener[K, V]) Option[K, V] {
	return func(c *config[K, V]) {
		c.listener = listener
	}
}

// WithClock overrides the monotonic time source (§6, "read() ->
// nanoseconds; must be monotonic"). Tests substitute an
// internal/xclock.Mock for deterministic expiration/refresh scenarios.
func WithClock[K comparable, V any](clk xclock.Clock) Option[K, V] {
	return func(c *config[K, V]) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the
// hot path; only listener panics and refresh-loader errors are emitted
// (§7).
func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil (the
// default) disables metrics.
func WithMetrics[K comparable, V any](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) {
		c.registry = reg
	}
}

// WithWeakValues selects the Reclaimable value-holder shape (spec.md §3,
// §4.8, §9): cached values are held only weakly, through
// internal/reclaim.Ref[T], so the cache never by itself keeps a value
// reachable. Cache[K,V] is necessarily fully generic over V, so it
// cannot itself call internal/reclaim's generic weak.Make[T] — V is
// erased from its perspective once constructed. This helper carries its
// own type parameter T (V is instantiated as *T by the caller), so
// *here*, at this function's own definition site, T is statically known
// and the weak.Make[T]/weak.Pointer[T] calls can be closed over and
// stored as the type-erased func(V) any / func(any) (V, bool) fields
// config[K,V] carries forward.
//
// Use: New[K, *T](WithWeakValues[K, T](), ...).
func WithWeakValues[K comparable, T any]() Option[K, *T] {
	return func(c *config[K, *T]) {
		c.valueWeak = true
		c.makeValueRef = func(v *T) any {
			return reclaim.Make(v)
		}
		c.getValueRef = func(boxed any) (*T, bool) {
			ref, ok := boxed.(reclaim.Ref[T])
			if !ok {
				return nil, false
			}
			return ref.Value()
		}
		c.watchValueRef = func(v *T, token any, notify func(any)) {
			reclaim.Watch(v, token, notify)
		}
	}
}

// WithWeakKeys selects the reclaimable key shape (spec.md §3, §4.8, §9):
// the same type-parameter trick as WithWeakValues, mirrored onto K.
//
// Use: New[*T, V](WithWeakKeys[T, V](), ...).
func WithWeakKeys[T comparable, V any]() Option[*T, V] {
	return func(c *config[*T, V]) {
		c.keyWeak = true
		c.makeKeyRef = func(k *T) any {
			return reclaim.Make(k)
		}
		c.getKeyRef = func(boxed any) (*T, bool) {
			ref, ok := boxed.(reclaim.Ref[T])
			if !ok {
				return nil, false
			}
			return ref.Value()
		}
		c.watchKeyRef = func(k *T, token any, notify func(any)) {
			reclaim.Watch(k, token, notify)
		}
	}
}

var (
	errInvalidConcurrency = errors.New("stripecache: concurrency level must be > 0")
	errInvalidWeigher     = errors.New("stripecache: weigher must not be nil")
)

// applyOptions copies opts into cfg and validates the result. Mirrors the
// teacher's applyOptions, generalized to the larger knob set above.
func applyOptions[K comparable, V any](cfg *config[K, V], opts []Option[K, V]) error {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.concurrencyLevel <= 0 {
		return errInvalidConcurrency
	}
	if cfg.weigher == nil {
		return errInvalidWeigher
	}
	if cfg.clock == nil {
		cfg.clock = xclock.New()
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return nil
}

// shardCount derives the stripe count from the configured concurrency
// level per spec.md §4.1: the smallest power of two >= concurrencyLevel,
// further bounded down so each stripe gets at least twenty entries'
// worth of the size cap when one is configured.
func shardCount(concurrencyLevel int, maxWeight int64) int {
	n := nextPowerOfTwo(concurrencyLevel)
	if maxWeight > 0 {
		for n > 1 && maxWeight/int64(n) < 20 {
			n >>= 1
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	if n <= math.MaxUint32 && unsafehelpers.IsPowerOfTwo(uint32(n)) {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// perStripeWeight splits total across n stripes per spec.md §3: "sum
// across stripes equals the global cap, with remainder spread across
// the first few stripes." total == 0 means unbounded (every stripe gets
// 0, meaning "no cap" in pkg/shard.go's convention).
func perStripeWeight(total int64, n int) []int64 {
	out := make([]int64, n)
	if total <= 0 || n <= 0 {
		return out
	}
	base := total / int64(n)
	rem := total % int64(n)
	for i := 0; i < n; i++ {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}
