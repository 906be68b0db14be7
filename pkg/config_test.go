package cache

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{
		-1: 1, 0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 16: 16, 17: 32,
	}
	for n, want := range cases {
		if got := nextPowerOfTwo(n); got != want {
			t.Errorf("nextPowerOfTwo(%d) = %d; want %d", n, got, want)
		}
	}
}

func TestShardCountRespectsConcurrencyLevel(t *testing.T) {
	if got := shardCount(16, 0); got != 16 {
		t.Fatalf("shardCount(16, unbounded) = %d; want 16", got)
	}
	if got := shardCount(5, 0); got != 8 {
		t.Fatalf("shardCount(5, unbounded) = %d; want 8 (next power of two)", got)
	}
}

// TestShardCountShrinksForTinyWeightCaps exercises spec.md §4.1's rule
// that a stripe should get at least twenty units of weight: a large
// concurrency hint paired with a tiny cap shrinks the stripe count instead
// of giving every stripe a near-zero share.
func TestShardCountShrinksForTinyWeightCaps(t *testing.T) {
	got := shardCount(64, 100)
	if got > 4 {
		t.Fatalf("shardCount(64, 100) = %d; want <= 4 so each stripe gets >= 20 weight", got)
	}
	if 100/int64(got) < 20 {
		t.Fatalf("shardCount(64, 100) = %d gives each stripe only %d weight; want >= 20", got, 100/int64(got))
	}
}

func TestPerStripeWeightDistributesRemainder(t *testing.T) {
	got := perStripeWeight(10, 3)
	want := []int64{4, 3, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("perStripeWeight(10, 3) = %v; want %v", got, want)
		}
	}
	var sum int64
	for _, w := range got {
		sum += w
	}
	if sum != 10 {
		t.Fatalf("perStripeWeight shares sum to %d; want 10", sum)
	}
}

func TestPerStripeWeightUnboundedIsZero(t *testing.T) {
	got := perStripeWeight(0, 4)
	for _, w := range got {
		if w != 0 {
			t.Fatalf("perStripeWeight(0, 4) = %v; want all zero (unbounded)", got)
		}
	}
}

func TestApplyOptionsRejectsInvalidConcurrency(t *testing.T) {
	cfg := defaultConfig[string, int]()
	cfg.concurrencyLevel = 0
	if err := applyOptions(cfg, nil); err != errInvalidConcurrency {
		t.Fatalf("applyOptions with concurrencyLevel=0 = %v; want errInvalidConcurrency", err)
	}
}

func TestApplyOptionsFillsDefaults(t *testing.T) {
	cfg := defaultConfig[string, int]()
	if err := applyOptions(cfg, nil); err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if cfg.clock == nil {
		t.Fatal("applyOptions should leave a non-nil clock")
	}
	if cfg.logger == nil {
		t.Fatal("applyOptions should leave a non-nil logger")
	}
}
