// Package buffer provides a generic, thread-safe ring buffer with
// configurable overflow handling. The profiler keeps its retained
// performance samples in one, so the retention bound is enforced by the
// DropOldest policy.
package buffer

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write adds an item. When full, the overflow policy decides which item
	// is discarded.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// Snapshot returns every buffered item from oldest to newest without
	// removing them.
	Snapshot() []T

	Size() int
	Capacity() int
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with every item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding at most capacity items.
// It fails only when metrics were requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
