package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Voskan/stripecache/internal/xclock"
)

func TestPutGetIfPresent(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, ok := c.GetIfPresent("a"); ok {
		t.Fatal("expected miss before any Put")
	}

	prev, had := c.Put("a", 1)
	if had || prev != 0 {
		t.Fatalf("first Put reported a previous value: %d, %v", prev, had)
	}

	v, ok := c.GetIfPresent("a")
	if !ok || v != 1 {
		t.Fatalf("GetIfPresent(a) = %d, %v; want 1, true", v, ok)
	}

	prev, had = c.Put("a", 2)
	if !had || prev != 1 {
		t.Fatalf("second Put(a) reported prev=%d, had=%v; want 1, true", prev, had)
	}
	v, _ = c.GetIfPresent("a")
	if v != 2 {
		t.Fatalf("GetIfPresent(a) after overwrite = %d; want 2", v)
	}
}

func TestPutIfAbsent(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if existing, present := c.PutIfAbsent("a", 1); present {
		t.Fatalf("PutIfAbsent on empty key reported present=%v existing=%d", present, existing)
	}
	if existing, present := c.PutIfAbsent("a", 2); !present || existing != 1 {
		t.Fatalf("PutIfAbsent(a,2) = %d, %v; want 1, true", existing, present)
	}
	v, _ := c.GetIfPresent("a")
	if v != 1 {
		t.Fatalf("value after PutIfAbsent collision = %d; want unchanged 1", v)
	}
}

func TestReplaceRequiresExistingValue(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, replaced := c.Replace("missing", 9); replaced {
		t.Fatal("Replace on a missing key should not succeed")
	}

	c.Put("k", 1)
	prev, replaced := c.Replace("k", 2)
	if !replaced || prev != 1 {
		t.Fatalf("Replace(k,2) = %d, %v; want 1, true", prev, replaced)
	}
	v, _ := c.GetIfPresent("k")
	if v != 2 {
		t.Fatalf("GetIfPresent(k) after Replace = %d; want 2", v)
	}
}

func TestReplaceExpected(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	if _, replaced := c.ReplaceExpected("k", 99, 2); replaced {
		t.Fatal("ReplaceExpected with a stale expected value should not succeed")
	}
	prev, replaced := c.ReplaceExpected("k", 1, 2)
	if !replaced || prev != 1 {
		t.Fatalf("ReplaceExpected(k,1,2) = %d, %v; want 1, true", prev, replaced)
	}
}

func TestInvalidateAndExpected(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	if _, removed := c.InvalidateExpected("k", 2); removed {
		t.Fatal("InvalidateExpected with a stale expected value should not succeed")
	}
	prev, removed := c.InvalidateExpected("k", 1)
	if !removed || prev != 1 {
		t.Fatalf("InvalidateExpected(k,1) = %d, %v; want 1, true", prev, removed)
	}
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("k should be gone after InvalidateExpected")
	}

	c.Put("j", 5)
	prev, removed = c.Invalidate("j")
	if !removed || prev != 5 {
		t.Fatalf("Invalidate(j) = %d, %v; want 5, true", prev, removed)
	}
}

// TestGetOrLoadAtMostOnce is spec.md's core load-coordination guarantee
// (§4.4/§8.5): N concurrent callers racing GetOrLoad for the same missing
// key observe the loader invoked exactly once and all receive the same
// value.
func TestGetOrLoadAtMostOnce(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var calls atomic.Int64
	start := make(chan struct{})
	loader := NewLoader(func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		<-start
		return 42, nil
	})

	const n = 32
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", loader)
			results[i] = v
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader invoked %d times; want exactly 1", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d got error %v", i, errs[i])
		}
		if results[i] != 42 {
			t.Fatalf("caller %d got %d; want 42", i, results[i])
		}
	}
}

func TestGetOrLoadCachesAfterFirstLoad(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var calls atomic.Int64
	loader := NewLoader(func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		return 7, nil
	})

	for i := 0; i < 5; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", loader)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if v != 7 {
			t.Fatalf("GetOrLoad = %d; want 7", v)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("loader invoked %d times across repeated GetOrLoad calls; want 1", got)
	}
}

// TestGetOrLoadPropagatesExecutionError checks spec.md §7: a failed load
// surfaces as ExecutionError wrapping the loader's own error, and does not
// leave a permanently stuck Loading holder behind.
func TestGetOrLoadPropagatesExecutionError(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	boom := errors.New("boom")
	loader := NewLoader(func(ctx context.Context, key string) (int, error) {
		return 0, boom
	})

	_, err = c.GetOrLoad(context.Background(), "k", loader)
	if err == nil {
		t.Fatal("expected an error")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error %v is not an *ExecutionError", err)
	}
	if !errors.Is(execErr, boom) && !errors.Is(err, boom) {
		t.Fatalf("error %v does not wrap %v", err, boom)
	}

	// A subsequent call must retry the load rather than replay the failure.
	okLoader := NewLoader(func(ctx context.Context, key string) (int, error) {
		return 11, nil
	})
	v, err := c.GetOrLoad(context.Background(), "k", okLoader)
	if err != nil {
		t.Fatalf("GetOrLoad after failed load: %v", err)
	}
	if v != 11 {
		t.Fatalf("GetOrLoad after failed load = %d; want 11", v)
	}
}

// TestRecursiveLoadDetected exercises spec.md §4.4/§7: a loader that calls
// back into GetOrLoad for the same key, on the same call chain, must fail
// fast with RecursiveLoadError instead of deadlocking.
func TestRecursiveLoadDetected(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var loader Loader[string, int]
	loader = NewLoader(func(ctx context.Context, key string) (int, error) {
		return c.GetOrLoad(ctx, key, loader)
	})

	_, err = c.GetOrLoad(context.Background(), "k", loader)
	if err == nil {
		t.Fatal("expected a recursive load error")
	}
	var recErr *RecursiveLoadError
	if !errors.As(err, &recErr) {
		t.Fatalf("error %v is not a *RecursiveLoadError", err)
	}
}

func TestExpireAfterWrite(t *testing.T) {
	clk := xclock.NewMock()
	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithClock[string, int](clk),
		WithExpireAfterWrite[string, int](time.Minute),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	if _, ok := c.GetIfPresent("k"); !ok {
		t.Fatal("k should be present immediately after Put")
	}

	clk.Advance(int64(30 * time.Second))
	if _, ok := c.GetIfPresent("k"); !ok {
		t.Fatal("k should still be present before its TTL elapses")
	}

	clk.Advance(int64(31 * time.Second))
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("k should have expired after its write TTL elapsed")
	}
}

func TestExpireAfterAccess(t *testing.T) {
	clk := xclock.NewMock()
	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithClock[string, int](clk),
		WithExpireAfterAccess[string, int](time.Minute),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	// Touch the key just under the TTL, repeatedly: it should never expire
	// as long as every gap stays under expireAfterAccess.
	for i := 0; i < 3; i++ {
		clk.Advance(int64(50 * time.Second))
		if _, ok := c.GetIfPresent("k"); !ok {
			t.Fatalf("k expired on access #%d despite being touched within its TTL", i)
		}
	}
	clk.Advance(int64(61 * time.Second))
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("k should have expired once it went untouched past its access TTL")
	}
}

// TestRefreshAheadServesStaleDuringReload exercises spec.md §4.5: a read
// past the refresh-after-write threshold serves the current (stale) value
// immediately while triggering a background reload, rather than blocking.
func TestRefreshAheadServesStaleDuringReload(t *testing.T) {
	clk := xclock.NewMock()
	release := make(chan struct{})
	var calls atomic.Int64
	loader := NewLoader(func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		<-release
		return 2, nil
	})

	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithClock[string, int](clk),
		WithRefreshAfterWrite[string, int](time.Minute),
		WithLoader[string, int](loader),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	clk.Advance(int64(2 * time.Minute))

	v, ok := c.GetIfPresent("k")
	if !ok || v != 1 {
		t.Fatalf("GetIfPresent(k) mid-refresh = %d, %v; want stale 1, true", v, ok)
	}

	close(release)

	// The mock clock doesn't drive the reload goroutine's scheduling, so
	// poll with real sleeps for the refreshed value to land.
	for i := 0; i < 200; i++ {
		if v, ok := c.GetIfPresent("k"); ok && v == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("refreshed value 2 never became visible")
}

func TestSizeEviction(t *testing.T) {
	var removed []RemovalNotification[string, int]
	var mu sync.Mutex
	listener := func(n RemovalNotification[string, int]) {
		mu.Lock()
		removed = append(removed, n)
		mu.Unlock()
	}

	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithMaxWeight[string, int](3),
		WithRemovalListener[string, int](listener),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 1)
	c.Put("c", 1)
	// a/b/c now fill the weight cap; a was written first so it's the LRU
	// victim once d forces an eviction (no intervening read promotes it).
	c.Put("d", 1)

	if c.Weight() > 3 {
		t.Fatalf("Weight() = %d; want <= 3 after size eviction", c.Weight())
	}
	if _, ok := c.GetIfPresent("a"); ok {
		t.Fatal("a should have been evicted to respect the weight cap")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, n := range removed {
		if n.KeyOK && n.Key == "a" && n.Cause == Size {
			found = true
		}
	}
	if !found {
		t.Fatalf("no Size removal notification seen for evicted key a; got %+v", removed)
	}
}

func TestExplicitRemovalNotification(t *testing.T) {
	var got RemovalNotification[string, int]
	listener := func(n RemovalNotification[string, int]) { got = n }

	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithRemovalListener[string, int](listener),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	c.Invalidate("k")

	if got.Cause != Explicit || !got.KeyOK || got.Key != "k" {
		t.Fatalf("removal notification = %+v; want Explicit cause for key k", got)
	}
}

func TestReplacedRemovalNotification(t *testing.T) {
	var got RemovalNotification[string, int]
	listener := func(n RemovalNotification[string, int]) { got = n }

	c, err := New[string, int](
		WithConcurrencyLevel[string, int](1),
		WithRemovalListener[string, int](listener),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	c.Put("k", 2)

	if got.Cause != Replaced || got.Value != 1 {
		t.Fatalf("removal notification = %+v; want Replaced cause carrying the old value 1", got)
	}
}

func TestStatsHitsAndMisses(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 1)
	c.GetIfPresent("k")
	c.GetIfPresent("k")
	c.GetIfPresent("missing")

	st := c.Stats()
	if st.HitCount != 2 {
		t.Fatalf("HitCount = %d; want 2", st.HitCount)
	}
	if st.MissCount != 1 {
		t.Fatalf("MissCount = %d; want 1", st.MissCount)
	}
	if st.HitRate() < 0.66 || st.HitRate() > 0.67 {
		t.Fatalf("HitRate = %f; want ~0.667", st.HitRate())
	}
}
