package cache

// errors.go implements the error taxonomy from spec.md §7. Every variant
// wraps its cause (where one exists) so callers can use errors.As/errors.Is
// per stdlib convention, following the teacher's own pkg/config.go style
// of small sentinel/typed errors over a third-party errors package.
//
// © 2025 stripecache authors. MIT License.

import "fmt"

// InvalidLoadError means a Loader (or its batch LoadAll) returned no value
// for a key it was asked to produce one for.
type InvalidLoadError struct {
	Key any
}

func (e *InvalidLoadError) Error() string {
	return fmt.Sprintf("stripecache: loader returned no value for key %v", e.Key)
}

// ExecutionError wraps a non-recoverable error raised by a Loader.
type ExecutionError struct {
	Key   any
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stripecache: load failed for key %v: %v", e.Key, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// UncheckedExecutionError wraps a panic recovered from inside a Loader.
type UncheckedExecutionError struct {
	Key   any
	Cause error
}

func (e *UncheckedExecutionError) Error() string {
	return fmt.Sprintf("stripecache: loader panicked for key %v: %v", e.Key, e.Cause)
}

func (e *UncheckedExecutionError) Unwrap() error { return e.Cause }

// RecursiveLoadError means the same logical call chain re-entered
// GetOrLoad for a key whose load it is already performing.
type RecursiveLoadError struct {
	Key any
}

func (e *RecursiveLoadError) Error() string {
	return fmt.Sprintf("stripecache: recursive load detected for key %v", e.Key)
}

// AssertionError signals a broken internal invariant (e.g. an eviction
// queue head claims an entry that is not present in the table). It is
// fatal to the operation that discovers it but never crashes the process;
// callers should treat it as a bug report.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "stripecache: internal invariant violated: " + e.Msg
}
