// Package unsafehelpers centralises all unavoidable use of the `unsafe`
// standard-library package so the rest of stripecache stays ordinary Go.
// Every helper documents its pre/post-conditions.
//
// © 2025 stripecache authors. MIT License.
package unsafehelpers

import "unsafe"

// BytesToString converts a mutable byte slice to an immutable string
// without allocating. The caller must guarantee that b is never modified
// for the lifetime of the resulting string. pkg/cache.go's key hashing
// does not call it; it writes []byte keys to the hash directly.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// ByteSliceFrom returns a []byte view of raw memory starting at ptr with
// the given length. Caller must ensure the memory block is at least
// length bytes. Used for hashing scalar key types, where we only know
// the pointer and size at runtime.
func ByteSliceFrom(ptr unsafe.Pointer, length uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uint32) bool {
	return x != 0 && (x&(x-1)) == 0
}
