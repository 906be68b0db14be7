// Package xclock provides the cache's injectable time source.
//
// spec.md C1: a monotonic nanosecond clock that can be swapped out in
// tests so expiration and refresh-ahead scenarios (S3, S5) are
// deterministic instead of racing real wall-clock time.
//
// © 2025 stripecache authors. MIT License.
package xclock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source consumed by the cache. Implementations must be
// monotonic: NowNanos must never go backwards for a given instance.
type Clock interface {
	NowNanos() int64
}

// real wraps github.com/benbjohnson/clock's production clock, which in turn
// delegates to the standard library's time.Now(). NowNanos is the base
// instant plus Since(base), which uses time.Now()'s monotonic reading, so
// it never goes backwards when the wall clock is stepped.
type real struct {
	c    clock.Clock
	base time.Time
}

// New returns the default production clock.
func New() Clock {
	c := clock.New()
	return real{c: c, base: c.Now()}
}

func (r real) NowNanos() int64 {
	return r.base.UnixNano() + int64(r.c.Since(r.base))
}

// Mock is a deterministic clock for tests, wrapping clock.Mock so callers
// can Set/Add time without a real sleep.
type Mock struct {
	m *clock.Mock
}

// NewMock returns a Mock clock started at the Unix epoch.
func NewMock() *Mock {
	return &Mock{m: clock.NewMock()}
}

func (m *Mock) NowNanos() int64 {
	return m.m.Now().UnixNano()
}

// Advance moves the mock clock forward by d nanoseconds.
func (m *Mock) Advance(d int64) {
	m.m.Add(time.Duration(d))
}
