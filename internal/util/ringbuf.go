package util

import "sync"

// Recent keeps the last N items appended to it. Older items are discarded.
// Safe for concurrent use.
type Recent[T any] struct {
	mu    sync.RWMutex
	cap   int
	items []T
}

// NewRecent creates a buffer that retains at most capacity items.
func NewRecent[T any](capacity int) *Recent[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Recent[T]{cap: capacity}
}

// Add appends an item, evicting the oldest when the buffer is full.
func (r *Recent[T]) Add(item T) {
	r.mu.Lock()
	r.items = append(r.items, item)
	if len(r.items) > r.cap {
		// Shift in place so the backing array does not grow unbounded.
		copy(r.items, r.items[1:])
		r.items = r.items[:r.cap]
	}
	r.mu.Unlock()
}

// Items returns a copy of the retained items, oldest first.
func (r *Recent[T]) Items() []T {
	r.mu.RLock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	r.mu.RUnlock()
	return out
}

// Len returns the number of retained items.
func (r *Recent[T]) Len() int {
	r.mu.RLock()
	n := len(r.items)
	r.mu.RUnlock()
	return n
}
