package cache

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
)

func TestGetAllPresent(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)

	got := c.GetAllPresent([]string{"a", "b", "c"})
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("GetAllPresent = %+v; want a:1 b:2", got)
	}
}

// TestGetAllLoadsMissingKeysOnce exercises spec.md §4.9's per-key fallback
// path: a Loader without LoadAll support is invoked once per missing key
// and not at all for keys that are already cached.
func TestGetAllLoadsMissingKeysOnce(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("cached", 100)

	var calls atomic.Int64
	loader := NewLoader(func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		return len(key), nil
	})

	got, err := c.GetAll(context.Background(), []string{"cached", "x", "yy"}, loader)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if got["cached"] != 100 || got["x"] != 1 || got["yy"] != 2 {
		t.Fatalf("GetAll = %+v; want cached:100 x:1 yy:2", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("loader invoked %d times; want 2 (only the missing keys)", got)
	}

	// Loaded entries must now be cached.
	if v, ok := c.GetIfPresent("x"); !ok || v != 1 {
		t.Fatalf("GetIfPresent(x) after GetAll = %d, %v; want 1, true", v, ok)
	}
}

func TestGetAllMissingKeyIsInvalidLoadError(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	loader := batchLoader{
		fn: func(keys []string) map[string]int {
			out := map[string]int{}
			for _, k := range keys {
				if k != "missing" {
					out[k] = 1
				}
			}
			return out
		},
	}

	_, err = c.GetAll(context.Background(), []string{"present", "missing"}, loader)
	if err == nil {
		t.Fatal("expected an InvalidLoadError for the key the batch loader dropped")
	}
	var invErr *InvalidLoadError
	if e, ok := err.(*InvalidLoadError); !ok {
		t.Fatalf("error %v is not *InvalidLoadError", err)
	} else {
		invErr = e
	}
	if invErr.Key != "missing" {
		t.Fatalf("InvalidLoadError.Key = %v; want \"missing\"", invErr.Key)
	}
}

// batchLoader is a test-only Loader whose LoadAll actually batches, to
// exercise GetAll's LoadAll-supported branch (distinct from the per-key
// fallback exercised by FuncLoader above).
type batchLoader struct {
	fn func(keys []string) map[string]int
}

func (b batchLoader) Load(ctx context.Context, key string) (int, error) {
	return b.fn([]string{key})[key], nil
}

func (b batchLoader) Reload(ctx context.Context, key string, old int) (int, error) {
	return b.Load(ctx, key)
}

func (b batchLoader) LoadAll(ctx context.Context, keys []string) (map[string]int, bool, error) {
	return b.fn(keys), true, nil
}

func TestInvalidateAllClearsEverything(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	c.InvalidateAll("a", "b")
	if _, ok := c.GetIfPresent("a"); ok {
		t.Fatal("a should be gone after InvalidateAll(a, b)")
	}
	if _, ok := c.GetIfPresent("c"); !ok {
		t.Fatal("c should survive a selective InvalidateAll")
	}

	c.InvalidateAll()
	if !c.IsEmpty() {
		t.Fatal("cache should be empty after InvalidateAll with no arguments")
	}
}

func TestIsEmpty(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if !c.IsEmpty() {
		t.Fatal("a freshly constructed cache should be empty")
	}
	c.Put("k", 1)
	if c.IsEmpty() {
		t.Fatal("cache should not be empty after a Put")
	}
	c.Invalidate("k")
	if !c.IsEmpty() {
		t.Fatal("cache should be empty again after removing its only key")
	}
}

func TestContainsValue(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Put("k", 42)
	if !c.ContainsValue(42) {
		t.Fatal("ContainsValue(42) = false; want true")
	}
	if c.ContainsValue(43) {
		t.Fatal("ContainsValue(43) = true; want false")
	}
}

func TestAsMapAndForEach(t *testing.T) {
	c, err := New[string, int](WithConcurrencyLevel[string, int](4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	want := map[string]int{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		c.Put(k, v)
	}

	got := c.AsMap()
	if len(got) != len(want) {
		t.Fatalf("AsMap returned %d entries; want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("AsMap[%q] = %d; want %d", k, got[k], v)
		}
	}

	var seen []string
	c.ForEach(func(k string, v int) bool {
		seen = append(seen, k)
		return true
	})
	sort.Strings(seen)
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("ForEach visited %v; want [a b c]", seen)
	}

	var stoppedAfter int
	c.ForEach(func(k string, v int) bool {
		stoppedAfter++
		return false
	})
	if stoppedAfter != 1 {
		t.Fatalf("ForEach kept iterating after fn returned false: visited %d entries", stoppedAfter)
	}
}
