// Package rollbuf provides a fixed-capacity, insertion-ordered buffer that
// overwrites its oldest entry when full. It backs the per-symbol trailing
// windows kept by the aggregator.
package rollbuf

// Buffer is a circular buffer of T. It never reorders entries.
//
// Not safe for concurrent use; callers serialize access.
type Buffer[T any] struct {
	buf  []T
	pos  int // next write position
	full bool
}

// New creates a buffer holding at most capacity entries. Minimum capacity is 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v. When the buffer is full the oldest entry is overwritten and
// returned with ok=true.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if b.full {
		evicted, ok = b.buf[b.pos], true
	}
	b.buf[b.pos] = v
	b.pos = (b.pos + 1) % len(b.buf)
	if b.pos == 0 && !b.full {
		b.full = true
	}
	return evicted, ok
}

// Snapshot returns a copy of the entries, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	n := b.Len()
	out := make([]T, n)
	if b.full {
		k := copy(out, b.buf[b.pos:])
		copy(out[k:], b.buf[:b.pos])
	} else {
		copy(out, b.buf[:n])
	}
	return out
}

// Last returns the newest entry.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.Len() == 0 {
		return zero, false
	}
	idx := b.pos - 1
	if idx < 0 {
		idx = len(b.buf) - 1
	}
	return b.buf[idx], true
}

// Len returns the number of entries currently held.
func (b *Buffer[T]) Len() int {
	if b.full {
		return len(b.buf)
	}
	return b.pos
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.buf)
}

// Reset drops every entry, keeping the capacity.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.pos = 0
	b.full = false
}
