package cache

// notification.go implements spec.md's removal-notification bus (C6) and
// listener contract (C11): every entry destruction emits exactly one
// notification, delivered after the stripe lock that caused it has been
// released, and a listener's errors are caught and logged, never
// propagated (§4.7, §7).
//
// Taxonomy and per-listener dispatch style grounded on
// other_examples/154a3f22_bingoohuang-loadingcache (RemovalReason,
// RemovalNotification).
//
// © 2025 stripecache authors. MIT License.

import (
	"sync"

	"go.uber.org/zap"
)

// RemovalCause explains why an entry left the cache.
type RemovalCause uint8

const (
	// Explicit means the caller removed the entry directly (Invalidate*).
	Explicit RemovalCause = iota
	// Replaced means a new value was written over a live old one.
	Replaced
	// Collected means the key or value was reclaimed by the runtime.
	Collected
	// Expired means expire-after-access or expire-after-write fired.
	Expired
	// Size means weight-based eviction removed the entry.
	Size
)

func (c RemovalCause) String() string {
	switch c {
	case Explicit:
		return "EXPLICIT"
	case Replaced:
		return "REPLACED"
	case Collected:
		return "COLLECTED"
	case Expired:
		return "EXPIRED"
	case Size:
		return "SIZE"
	default:
		return "UNKNOWN"
	}
}

// RemovalNotification describes one entry's departure. Key/Value are
// KeyOK/ValueOK-guarded because a Collected removal may have already lost
// the key or the value to reclamation by the time the notification fires.
type RemovalNotification[K comparable, V any] struct {
	Key      K
	KeyOK    bool
	Value    V
	ValueOK  bool
	Cause    RemovalCause
}

// RemovalListener receives removal notifications. It may be called from
// any goroutine, holding no stripe lock, and must not panic — panics are
// recovered and logged, matching spec.md's "errors from the removal
// listener are caught and logged" contract.
type RemovalListener[K comparable, V any] func(RemovalNotification[K, V])

// notificationBus buffers pending notifications for one stripe. spec.md
// describes it as a bounded lock-free MPMC queue; here it is a small
// mutex-guarded slice instead — see DESIGN.md for why that substitution
// is safe: the mutation that produces a notification already holds the
// stripe lock, so a second tiny lock around append/drain is not on the
// hot read path.
type notificationBus[K comparable, V any] struct {
	mu      sync.Mutex
	pending []RemovalNotification[K, V]
}

func (b *notificationBus[K, V]) push(n RemovalNotification[K, V]) {
	b.mu.Lock()
	b.pending = append(b.pending, n)
	b.mu.Unlock()
}

// drain removes and returns every pending notification.
func (b *notificationBus[K, V]) drain() []RemovalNotification[K, V] {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	out := b.pending
	b.pending = nil
	b.mu.Unlock()
	return out
}

// dispatch invokes listener for each notification, recovering and logging
// any panic so a broken listener can never corrupt or crash the caller
// that happened to trigger the eviction (§4.7/§7).
func dispatch[K comparable, V any](listener RemovalListener[K, V], logger *zap.Logger, notifications []RemovalNotification[K, V]) {
	if listener == nil {
		return
	}
	for _, n := range notifications {
		invokeListener(listener, logger, n)
	}
}

func invokeListener[K comparable, V any](listener RemovalListener[K, V], logger *zap.Logger, n RemovalNotification[K, V]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("stripecache: removal listener panicked",
				zap.Any("recovered", r),
				zap.String("cause", n.Cause.String()))
		}
	}()
	listener(n)
}
